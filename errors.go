package graphcache

import (
	"goflare.io/graphcache/internal/cache/distributed"
	"goflare.io/graphcache/internal/cache/multi"
	"goflare.io/graphcache/internal/config"
	"goflare.io/graphcache/pkg/codec"
)

var (
	ErrUnknownNamespace = multi.ErrUnknownNamespace
	ErrInvalidTTL       = multi.ErrInvalidTTL
	ErrNotRunning       = multi.ErrNotRunning
	ErrAlreadyStarted   = multi.ErrAlreadyStarted
	ErrInvalidConfig    = config.ErrInvalidConfig

	// 以下錯誤只會出現在日誌中，Get 與 Set 不會回傳
	ErrUnavailable    = distributed.ErrUnavailable
	ErrCorruptPayload = codec.ErrCorruptPayload
	ErrTypeMismatch   = codec.ErrTypeMismatch
)
