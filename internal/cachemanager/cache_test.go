package cachemanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_GetMiss(t *testing.T) {
	c := New[string]("test", time.Minute, 0)

	_, found := c.Get("absent")
	require.False(t, found)
}

func TestCache_SetAndGet(t *testing.T) {
	c := New[string]("test", time.Minute, 0)

	c.Set("greeting", "hello", time.Minute)

	value, found := c.Get("greeting")
	require.True(t, found)
	require.Equal(t, "hello", value)
}

func TestCache_TypedValues(t *testing.T) {
	type overview struct {
		Total int
	}
	c := New[overview]("test", time.Minute, 0)

	c.Set("current", overview{Total: 7}, time.Minute)

	value, found := c.Get("current")
	require.True(t, found)
	require.Equal(t, 7, value.Total)
}

func TestCache_Expiry(t *testing.T) {
	c := New[int]("test", 20*time.Millisecond, 0)

	c.Set("n", 42, 20*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, found := c.Get("n")
	require.False(t, found, "expired entries drop on read")
}

func TestCache_Delete(t *testing.T) {
	c := New[int]("test", time.Minute, 0)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Delete("a")

	_, found := c.Get("a")
	require.False(t, found)
	_, found = c.Get("b")
	require.True(t, found)
}

func TestCache_Flush(t *testing.T) {
	c := New[int]("test", time.Minute, 0)

	c.Set("a", 1, time.Minute)
	c.Flush()

	_, found := c.Get("a")
	require.False(t, found)
}
