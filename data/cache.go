// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"sort"
	"sync"
	"time"
)

// PricePoint is a single cached price observation
type PricePoint struct {
	Price     float64
	FetchedAt time.Time
}

// bytes charged against the cache budget per cached price
const pricePointSize = 16

// PriceCache keeps recently fetched token prices so repeated syncs within
// the TTL window do not hit the upstream price provider. Entries past their
// TTL are reported as misses; stale entries are reclaimed by LRU eviction
// when the byte budget fills up.
type PriceCache struct {
	sizeBytes    int64
	maxSizeBytes int64
	ttl          time.Duration
	values       map[string]*PricePoint
	lastSeen     map[string]time.Time
	locker       sync.RWMutex
}

type pair struct {
	key  string
	last time.Time
}

// ByDate sorts key/lastSeen pairs oldest first
type ByDate []pair

func (a ByDate) Len() int           { return len(a) }
func (a ByDate) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByDate) Less(i, j int) bool { return a[i].last.Before(a[j].last) }

// Functions

func NewPriceCache(sz int64, ttl time.Duration) *PriceCache {
	return &PriceCache{
		sizeBytes:    0,
		maxSizeBytes: sz,
		ttl:          ttl,
		values:       make(map[string]*PricePoint, 100),
		lastSeen:     make(map[string]time.Time, 100),
		locker:       sync.RWMutex{},
	}
}

// Check returns whether an unexpired price for the token is in the cache
func (cache *PriceCache) Check(chain, contractAddress string) bool {
	cache.locker.RLock()
	defer cache.locker.RUnlock()

	point, ok := cache.values[tokenKey(chain, contractAddress)]
	if !ok {
		return false
	}
	return time.Since(point.FetchedAt) <= cache.ttl
}

// Get returns the cached price for the token. If no price is cached, or the
// cached price has expired, ErrPriceNotAvailable is returned.
func (cache *PriceCache) Get(chain, contractAddress string) (float64, error) {
	cache.locker.RLock()
	defer cache.locker.RUnlock()

	point, ok := cache.values[tokenKey(chain, contractAddress)]
	if !ok {
		return 0, ErrPriceNotAvailable
	}
	if time.Since(point.FetchedAt) > cache.ttl {
		return 0, ErrPriceNotAvailable
	}

	return point.Price, nil
}

// Set adds the price for the specified token to the cache
func (cache *PriceCache) Set(chain, contractAddress string, price float64) error {
	cache.locker.Lock()
	defer cache.locker.Unlock()

	if cache.maxSizeBytes < pricePointSize {
		return ErrDataLargerThanCache
	}

	k := tokenKey(chain, contractAddress)
	now := time.Now()

	if _, ok := cache.values[k]; ok {
		cache.values[k] = &PricePoint{Price: price, FetchedAt: now}
		cache.lastSeen[k] = now
		return nil
	}

	newTotalSize := cache.sizeBytes + pricePointSize
	if newTotalSize > cache.maxSizeBytes {
		cache.deleteLRU(pricePointSize)
	}

	cache.values[k] = &PricePoint{Price: price, FetchedAt: now}
	cache.lastSeen[k] = now
	cache.sizeBytes += pricePointSize

	return nil
}

// Count returns the number of tokens in the cache
func (cache *PriceCache) Count() int {
	cache.locker.RLock()
	defer cache.locker.RUnlock()
	return len(cache.values)
}

func (cache *PriceCache) Size() int64 {
	cache.locker.RLock()
	defer cache.locker.RUnlock()
	return cache.sizeBytes
}

// Private Implementation

func (cache *PriceCache) deleteLRU(bytesToDelete int64) {
	lastAccess := make([]pair, 0, len(cache.lastSeen))
	for k, t := range cache.lastSeen {
		lastAccess = append(lastAccess, pair{
			key:  k,
			last: t,
		})
	}

	sort.Sort(ByDate(lastAccess))

	cleared := int64(0)
	for _, keyPair := range lastAccess {
		delete(cache.values, keyPair.key)
		delete(cache.lastSeen, keyPair.key)
		cleared += pricePointSize

		if cleared >= bytesToDelete {
			break
		}
	}

	cache.sizeBytes -= cleared
}
