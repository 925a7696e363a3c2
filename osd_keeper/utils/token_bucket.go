package utils

import (
	"context"
	"sync/atomic"
	"time"
)

// TokenBucket refills maxTokens every refill gap. Gaps are aligned to wall
// clock milliseconds so that callers on different goroutines agree on them.
type TokenBucket struct {
	remainTokens    int64
	refillGapMillis int64
	maxTokens       int64
	gapId           int64
}

func timeNowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

func NewTokenBucket(tokensPerSecond, gapsPerSecond int64) *TokenBucket {
	if gapsPerSecond <= 0 || gapsPerSecond > 100 {
		gapsPerSecond = 100
	}
	if tokensPerSecond < gapsPerSecond {
		gapsPerSecond = tokensPerSecond
	}
	if gapsPerSecond <= 0 {
		gapsPerSecond = 1
		tokensPerSecond = 1
	}

	maxTokens := (tokensPerSecond + gapsPerSecond - 1) / gapsPerSecond
	refillGapMillis := 1000 / gapsPerSecond
	return &TokenBucket{
		remainTokens:    maxTokens,
		refillGapMillis: refillGapMillis,
		maxTokens:       maxTokens,
		gapId:           timeNowMillis() / refillGapMillis,
	}
}

// tryAcquire returns 0 if a token is taken, otherwise how long to wait
// before trying again.
func (t *TokenBucket) tryAcquire() time.Duration {
	nowMillis := timeNowMillis()
	currentId := nowMillis / t.refillGapMillis
	tokenId := atomic.LoadInt64(&t.gapId)
	switch {
	case currentId == tokenId:
		if atomic.LoadInt64(&t.remainTokens) > 0 && atomic.AddInt64(&t.remainTokens, -1) >= 0 {
			return 0
		}
		return time.Millisecond * time.Duration((currentId+1)*t.refillGapMillis-nowMillis)
	case currentId > tokenId:
		if atomic.CompareAndSwapInt64(&t.gapId, tokenId, currentId) {
			atomic.StoreInt64(&t.remainTokens, t.maxTokens)
		}
		return -1
	default:
		return time.Millisecond * time.Duration(tokenId*t.refillGapMillis-nowMillis)
	}
}

func (t *TokenBucket) AcquireToken() {
	for {
		wait := t.tryAcquire()
		if wait == 0 {
			return
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}
}

// AcquireTokenCtx is AcquireToken that gives up when ctx is done.
func (t *TokenBucket) AcquireTokenCtx(ctx context.Context) error {
	for {
		wait := t.tryAcquire()
		if wait == 0 {
			return nil
		}
		if wait < 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
