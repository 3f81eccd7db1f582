package esi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCache_GetPutExpiry(t *testing.T) {
	oc := NewOrderCache()
	now := time.Now().UTC()
	orders := []MarketOrder{{OrderID: 1}}

	oc.Put(10000002, OrderTypeSell, orders, "s1", now.Add(5*time.Minute))
	got, etag, hit := oc.Get(10000002, OrderTypeSell)
	require.True(t, hit)
	assert.Equal(t, "s1", etag)
	assert.Len(t, got, 1)

	oc.Put(10000043, OrderTypeSell, orders, "s2", now.Add(-time.Minute))
	got, etag, hit = oc.Get(10000043, OrderTypeSell)
	assert.False(t, hit, "expired entry must miss")
	assert.Nil(t, got)
	assert.Equal(t, "s2", etag, "expired entry still offers etag for conditional fetch")

	_, _, hit = oc.Get(10000002, OrderTypeBuy)
	assert.False(t, hit)
}

func TestOrderCache_Touch(t *testing.T) {
	oc := NewOrderCache()
	now := time.Now().UTC()
	oc.Put(10000002, OrderTypeAll, []MarketOrder{{OrderID: 7}}, "e", now.Add(-time.Minute))

	orders, ok := oc.Touch(10000002, OrderTypeAll, now.Add(time.Minute))
	require.True(t, ok)
	assert.Len(t, orders, 1)
	_, _, hit := oc.Get(10000002, OrderTypeAll)
	assert.True(t, hit)

	_, ok = oc.Touch(1, OrderTypeAll, now)
	assert.False(t, ok)
}
