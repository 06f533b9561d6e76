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

import "errors"

var (
	ErrTokenNotFound       = errors.New("token not found")
	ErrInvalidStatusCode   = errors.New("HTTP request returned invalid status code")
	ErrEmptyResponse       = errors.New("no results returned")
	ErrPriceNotAvailable   = errors.New("no price available for token")
	ErrDataLargerThanCache = errors.New("data larger than cache size")
	ErrInvalidBalance      = errors.New("could not parse balance returned by provider")
)
