// Package cache memoiza resultados costosos (por ejemplo el código reescrito
// de cada eval) durante una corrida de análisis.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// CacheItem representa un elemento en el caché con su tiempo de expiración
type CacheItem struct {
	Value      interface{}
	Expiration time.Time
}

// Cache es una implementación thread-safe de caché en memoria con TTL y
// un límite opcional de entradas
type Cache struct {
	items      map[string]*CacheItem
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewCache crea una nueva instancia de caché con el TTL especificado.
// maxEntries <= 0 significa sin límite.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		items:      make(map[string]*CacheItem),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}

	go c.cleanupExpired(time.Minute)

	return c
}

// KeyFor devuelve una clave estable para un texto fuente arbitrario
func KeyFor(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get obtiene un valor del caché
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists {
		return nil, false
	}

	if time.Now().After(item.Expiration) {
		return nil, false
	}

	return item.Value, true
}

// Set establece un valor en el caché
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL establece un valor con un TTL específico
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.items[key] = &CacheItem{
		Value:      value,
		Expiration: time.Now().Add(ttl),
	}
}

// evictOldestLocked elimina la entrada que expira primero
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, item := range c.items {
		if oldestKey == "" || item.Expiration.Before(oldest) {
			oldestKey = key
			oldest = item.Expiration
		}
	}
	delete(c.items, oldestKey)
}

// Delete elimina un elemento del caché
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Clear limpia todo el caché
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*CacheItem)
}

// Size retorna el número de elementos en el caché
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Close detiene la limpieza periódica
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanupExpired elimina periódicamente elementos expirados
func (c *Cache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purge(time.Now())
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) purge(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, item := range c.items {
		if now.After(item.Expiration) {
			delete(c.items, key)
		}
	}
}

// GetOrCompute obtiene un valor del caché o lo calcula si no existe.
// Los errores no se guardan.
func (c *Cache) GetOrCompute(key string, compute func() (interface{}, error)) (interface{}, error) {
	if val, ok := c.Get(key); ok {
		return val, nil
	}

	val, err := compute()
	if err != nil {
		return nil, err
	}

	c.Set(key, val)

	return val, nil
}
