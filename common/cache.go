// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// cache keys are namespaced so multiple services can share one redis
const cacheNamespace = "wpapi"

var cacheCtx = context.Background()
var rdb *redis.Client
var localCache *lru.Cache

// SetupCache initializes the in-process LRU tier and, when cache.redis is
// set, the shared redis tier behind it
func SetupCache() {
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Fatal().Err(err).Msg("could not parse redis URL")
		}
		rdb = redis.NewClient(opt)
	}

	size := viper.GetInt("cache.local_size")
	if size == 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create LRU cache")
	}
	localCache = c
}

func cacheKey(key string) string {
	return fmt.Sprintf("%s:%s", cacheNamespace, key)
}

func cacheTTL() time.Duration {
	secs := viper.GetInt("cache.ttl")
	if secs == 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// CacheSet stores a compressed copy of bytes in both cache tiers. A no-op
// when SetupCache has not run.
func CacheSet(key string, bytes []byte) error {
	if localCache == nil {
		return nil
	}

	key = cacheKey(key)
	compressed, err := Compress(bytes)
	if err != nil {
		return err
	}
	localCache.Add(key, compressed)

	if rdb != nil {
		return rdb.Set(cacheCtx, key, compressed, cacheTTL()).Err()
	}
	return nil
}

// CacheGet returns the cached value for key, preferring the in-process tier.
// Misses return an empty slice; redis misses also surface redis.Nil.
func CacheGet(key string) ([]byte, error) {
	if localCache == nil {
		return []byte{}, nil
	}

	key = cacheKey(key)
	if v, ok := localCache.Get(key); ok {
		return Decompress(v.([]byte))
	}

	if rdb != nil {
		val, err := rdb.GetEx(cacheCtx, key, cacheTTL()).Bytes()
		if err != nil {
			return []byte{}, err
		}
		return Decompress(val)
	}

	return []byte{}, nil
}
