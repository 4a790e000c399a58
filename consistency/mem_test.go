package consistency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	key     string
	changes [][]byte
	deletes int
}

func (l *recordingListener) Interests(key string) bool        { return key == l.key }
func (l *recordingListener) MatchUnlistenKey(key string) bool { return key == l.key }
func (l *recordingListener) OnChange(key string, value []byte) {
	l.changes = append(l.changes, value)
}
func (l *recordingListener) OnDelete(key string) { l.deletes++ }

func TestMemConsistencyPutNotifiesInterestedListener(t *testing.T) {
	c := NewMemConsistency()
	l := &recordingListener{key: "k1"}
	require.NoError(t, c.Listen("k1", l))

	require.NoError(t, c.Put("k1", []byte("v1")))
	require.NoError(t, c.Put("k2", []byte("v2")))

	assert.Len(t, l.changes, 1)
	assert.Equal(t, []byte("v1"), l.changes[0])
}

func TestMemConsistencyGetReturnsCurrentValue(t *testing.T) {
	c := NewMemConsistency()
	require.NoError(t, c.Put("k1", []byte("v1")))

	d, ok, err := c.Get("k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), d.Value)

	_, ok, err = c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemConsistencyRemoveNotifiesOnDelete(t *testing.T) {
	c := NewMemConsistency()
	l := &recordingListener{key: "k1"}
	require.NoError(t, c.Listen("k1", l))
	require.NoError(t, c.Put("k1", []byte("v1")))

	require.NoError(t, c.Remove("k1"))
	assert.Equal(t, 1, l.deletes)

	_, ok, _ := c.Get("k1")
	assert.False(t, ok)
}

func TestMemConsistencyRemoveAbsentKeyIsNoop(t *testing.T) {
	c := NewMemConsistency()
	l := &recordingListener{key: "k1"}
	require.NoError(t, c.Listen("k1", l))

	require.NoError(t, c.Remove("k1"))
	assert.Zero(t, l.deletes)
}

func TestMemConsistencyUnlistenStopsNotifications(t *testing.T) {
	c := NewMemConsistency()
	l := &recordingListener{key: "k1"}
	require.NoError(t, c.Listen("k1", l))
	require.NoError(t, c.Unlisten("k1", l))

	require.NoError(t, c.Put("k1", []byte("v1")))
	assert.Empty(t, l.changes)
}
