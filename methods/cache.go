/* Copyright 2022 Treble Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package methods

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("methods")

// Cache is an on-disk store of fetched method records, keyed by
// lower-cased title.  Method records are immutable reference data,
// so entries never expire.  A nil *Cache is a valid no-op cache.
type Cache struct {
	Debug bool
	db    *bolt.DB
}

// OpenCache opens (creating if needed) the cache file.
func OpenCache(filename string) (*Cache, error) {
	opts := &bolt.Options{
		Timeout: time.Second,
	}
	db, err := bolt.Open(filename, 0644, opts)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the cache file.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(title string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(title)))
}

// Get looks a title up in the cache.
func (c *Cache) Get(title string) (Method, bool) {
	if c == nil {
		return Method{}, false
	}
	var m Method
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(cacheBucket).Get(cacheKey(title))
		if bs == nil {
			return nil
		}
		if err := json.Unmarshal(bs, &m); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		c.logf("Get %q: %v", title, err)
		return Method{}, false
	}
	return m, found
}

// Put stores a method record.
func (c *Cache) Put(m Method) error {
	if c == nil {
		return nil
	}
	bs, err := json.Marshal(&m)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put(cacheKey(m.Title), bs)
	})
}

func (c *Cache) logf(format string, args ...interface{}) {
	if c == nil || !c.Debug {
		return
	}
	log.Printf("methods cache "+format, args...)
}
