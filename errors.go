package cachekit

import "errors"

// ErrClosed is returned by HybridCache.Close when the cache is already
// closed. Other operations do not check for a closed cache.
var ErrClosed = errors.New("cachekit: cache is closed")
