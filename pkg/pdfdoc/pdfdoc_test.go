package pdfdoc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginate(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, Paginate(lines, 2))
	assert.Equal(t, [][]string{lines}, Paginate(lines, 0))
	assert.Equal(t, [][]string{nil}, Paginate(nil, 10))
}

func TestBytesIsDeterministic(t *testing.T) {
	doc := Document{Pages: [][]string{{"PRIVILEGED & CONFIDENTIAL", "Brief (draft)"}}, Info: map[string]string{"author": "x"}}
	a, err := doc.Bytes()
	require.NoError(t, err)
	b, err := doc.Bytes()
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(a, []byte("%PDF-")))
	assert.Equal(t, a, b)
	assert.Contains(t, string(a), "/Author (x)")
	assert.Contains(t, string(a), "/Producer (briefgate)")
	assert.Contains(t, string(a), `(Brief \(draft\))Tj`)
}

func TestBytesSkipsEmptyInfoKeys(t *testing.T) {
	doc := Document{Info: map[string]string{"": "ghost", "  ": "ghost", "Subject": "memo", "title": ""}}
	data, err := doc.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(data), "/Subject (memo)")
	assert.NotContains(t, string(data), "ghost")
	assert.NotContains(t, string(data), "/Title")
}

func TestBytesRejectsUnknownInfoEntry(t *testing.T) {
	_, err := Document{Info: map[string]string{"Company": "Acme"}}.Bytes()
	require.ErrorContains(t, err, "Company")
}
