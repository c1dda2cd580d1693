// Package cmn provides shared constants, configuration, and error types for
// the coalesced-fetch object store and cache coherence engine.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/aistore-polipo/coalescecache/cmn/debug"
)

// Object types, selecting the key interpretation (spec.md §3).
const (
	TypeHTTP = uint8(iota)
	TypeDNS
	TypeLocal
)

// Object.flags bitset (spec.md §3).
const (
	FlagInitial = 1 << iota
	FlagPublic
	FlagDynamic
	FlagLinear
	FlagValidating
	FlagInProgress
	FlagFailed
	FlagAborted
	FlagSuperseded
	FlagDiskEntryComplete
)

// Object.cache_control bitset (spec.md §3).
const (
	CacheNo = 1 << iota
	CacheNoHidden
	CacheNoStore
	CachePublic
	CachePrivate
	CacheNoTransform
	CacheMustRevalidate
	CacheProxyRevalidate
	CacheMismatch
	CacheVary
)

// Unset marks an epoch-seconds or directive field as "not present" (spec.md §3: -1 = unknown/unset).
const Unset = -1

type (
	// Validator is implemented by every nested *Conf so that Config.Validate
	// can walk the tree generically (ported from the teacher's cmn/config.go
	// Validator/PropsValidator pattern).
	Validator interface {
		Validate() error
	}

	// ChunkConf sizes and watermarks the Chunk Pool (spec.md §4.A, §6).
	ChunkConf struct {
		SizeBytes    int64  `json:"size_bytes"`
		LowMarkStr   string `json:"low_mark"`
		HighMarkStr  string `json:"high_mark"`
		CritMarkStr  string `json:"critical_mark"`
		LowMark      int64  `json:"-"` // parsed, in chunks
		HighMark     int64  `json:"-"`
		CriticalMark int64  `json:"-"`
	}

	// ObjectConf controls the Object Store's sizing and eviction triggers
	// (spec.md §4.C, §6).
	ObjectConf struct {
		HighMark            int    `json:"high_mark"`
		PublicLowMark       int    `json:"public_low_mark"`
		HashTableSize       int    `json:"hash_table_size"` // 0 == auto
		MaxKeySize          int    `json:"max_key_size"`
		IdleTimeStr         string `json:"idle_time"`
		MaxWriteoutWhenIdle int64  `json:"max_writeout_when_idle"`
		MaxObjectsWhenIdle  int    `json:"max_objects_when_idle"`
		IdleTime            time.Duration `json:"-"`
	}

	// FreshnessConf configures the staleness algorithm (spec.md §4.D "Freshness algorithm").
	FreshnessConf struct {
		CacheIsShared        bool    `json:"cache_is_shared"`
		MindlesslyCacheVary  bool    `json:"mindlessly_cache_vary"`
		MaxExpiresAgeStr     string  `json:"max_expires_age"`
		MaxAgeStr            string  `json:"max_age"`
		MaxAgeFraction       float64 `json:"max_age_fraction"`
		MaxNoModifiedAgeStr  string  `json:"max_no_modified_age"`
		MaxExpiresAge        time.Duration `json:"-"`
		MaxAge               time.Duration `json:"-"`
		MaxNoModifiedAge     time.Duration `json:"-"`
	}

	// Config is the root configuration object, JSON-tagged and loaded via
	// json-iterator the way the teacher's cmn.Config is (cmn/config.go).
	Config struct {
		Chunk      ChunkConf     `json:"chunk"`
		Object     ObjectConf    `json:"object"`
		Freshness  FreshnessConf `json:"freshness"`
		ConfigDir  string        `json:"confdir"`
		LogDir     string        `json:"log_dir"`
		DiskDir    string        `json:"disk_dir"`
	}
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

func DefaultConfig() *Config {
	return &Config{
		Chunk: ChunkConf{
			SizeBytes:   4096,
			LowMarkStr:  "16384", // chunks
			HighMarkStr: "24576",
			CritMarkStr: "28672",
		},
		Object: ObjectConf{
			HighMark:            2048,
			PublicLowMark:       1024, // objectHighMark/2
			HashTableSize:       0,
			MaxKeySize:          10000,
			IdleTimeStr:         "30s",
			MaxWriteoutWhenIdle: 65536,
			MaxObjectsWhenIdle:  32,
		},
		Freshness: FreshnessConf{
			CacheIsShared:       false,
			MindlesslyCacheVary: false,
			MaxExpiresAgeStr:    "721h", // 30d+1h
			MaxAgeStr:           "337h", // 14d+1h
			MaxAgeFraction:      0.1,
			MaxNoModifiedAgeStr: "23m",
		},
		ConfigDir: "/etc/coalescecache",
		LogDir:    "/var/log/coalescecache",
		DiskDir:   "/var/cache/coalescecache",
	}
}

// LoadConfig reads and validates a JSON configuration file, mirroring the
// teacher's load-then-Validate flow in cmn/config.go.
func LoadConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if len(data) > 0 {
		if err := jsonFast.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// interface guard
var (
	_ Validator = (*ChunkConf)(nil)
	_ Validator = (*ObjectConf)(nil)
	_ Validator = (*FreshnessConf)(nil)
)

func (c *Config) Validate() error {
	if c.ConfigDir == "" {
		return errors.New("invalid confdir value (must be non-empty)")
	}
	if err := c.Chunk.Validate(); err != nil {
		return err
	}
	if err := c.Object.Validate(); err != nil {
		return err
	}
	if err := c.Freshness.Validate(); err != nil {
		return err
	}
	debug.Assert(c.Chunk.LowMark < c.Chunk.HighMark && c.Chunk.HighMark < c.Chunk.CriticalMark)
	return nil
}

func (c *ChunkConf) Validate() error {
	if c.SizeBytes <= 0 {
		return errors.New("chunk.size_bytes must be positive")
	}
	low, err := parseIntStr(c.LowMarkStr)
	if err != nil {
		return fmt.Errorf("invalid chunk.low_mark: %w", err)
	}
	high, err := parseIntStr(c.HighMarkStr)
	if err != nil {
		return fmt.Errorf("invalid chunk.high_mark: %w", err)
	}
	crit, err := parseIntStr(c.CritMarkStr)
	if err != nil {
		return fmt.Errorf("invalid chunk.critical_mark: %w", err)
	}
	if !(low < high && high < crit) {
		return fmt.Errorf("invalid (low, high, critical) chunk marks (%d, %d, %d)", low, high, crit)
	}
	c.LowMark, c.HighMark, c.CriticalMark = low, high, crit
	return nil
}

func (c *ObjectConf) Validate() error {
	if c.HighMark <= 0 {
		return errors.New("object.high_mark must be positive")
	}
	if c.PublicLowMark <= 0 || c.PublicLowMark >= c.HighMark {
		return fmt.Errorf("invalid object.public_low_mark %d (must be in (0, %d))", c.PublicLowMark, c.HighMark)
	}
	if c.MaxKeySize <= 0 {
		c.MaxKeySize = 10000
	}
	d, err := time.ParseDuration(c.IdleTimeStr)
	if err != nil {
		return fmt.Errorf("invalid object.idle_time: %w", err)
	}
	c.IdleTime = d
	return nil
}

func (c *FreshnessConf) Validate() error {
	if c.MaxAgeFraction < 0 || c.MaxAgeFraction > 1 {
		return fmt.Errorf("invalid freshness.max_age_fraction %v (expected [0,1])", c.MaxAgeFraction)
	}
	var err error
	if c.MaxExpiresAge, err = time.ParseDuration(c.MaxExpiresAgeStr); err != nil {
		return fmt.Errorf("invalid freshness.max_expires_age: %w", err)
	}
	if c.MaxAge, err = time.ParseDuration(c.MaxAgeStr); err != nil {
		return fmt.Errorf("invalid freshness.max_age: %w", err)
	}
	if c.MaxNoModifiedAge, err = time.ParseDuration(c.MaxNoModifiedAgeStr); err != nil {
		return fmt.Errorf("invalid freshness.max_no_modified_age: %w", err)
	}
	return nil
}

// HashTableSizeOrAuto returns HashTableSize when it is set (> 0), and
// otherwise auto-computes objectHashTableSize as 16x the high-water
// object count, rounded up to the next power of two (spec.md §6).
func (c *ObjectConf) HashTableSizeOrAuto() int {
	if c.HashTableSize > 0 {
		return c.HashTableSize
	}
	n := c.HighMark * 16
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

func parseIntStr(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
