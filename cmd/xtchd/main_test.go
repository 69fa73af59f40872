package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtchd/xtchd/internal/sqlitestore"
	"github.com/xtchd/xtchd/internal/verify"
)

type testNode struct {
	cfgFile string
	dbPath  string
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	dir := t.TempDir()
	n := &testNode{
		cfgFile: filepath.Join(dir, "xtchd.yaml"),
		dbPath:  filepath.Join(dir, "db", "xtchd.db"),
	}
	body := "database:\n  driver: sqlite\n  path: " + n.dbPath + "\n" +
		"node:\n  id: test\n  data_dir: " + filepath.Join(dir, "data") + "\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(n.cfgFile, []byte(body), 0o644))
	return n
}

func (n *testNode) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", n.cfgFile}, args...))
	err := root.Execute()
	return out.String(), err
}

func (n *testNode) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := n.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestVersion(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), version)
}

func TestInitAddAndVerify(t *testing.T) {
	n := newTestNode(t)
	assert.Contains(t, n.mustRun(t, "init"), "Initialized xtchd node: test")

	out := n.mustRun(t, "add", "author", "Xtchd Admins")
	var added struct {
		DType   string          `json:"dtype"`
		Content json.RawMessage `json:"content"`
		NewHash string          `json:"new_sha256"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, "Author", added.DType)
	assert.JSONEq(t, `{"auth_id":0,"name":"Xtchd Admins"}`, string(added.Content))
	assert.Len(t, added.NewHash, 64)

	n.mustRun(t, "add", "article", "0", "First")
	n.mustRun(t, "add", "para", "0", "Hello, world.")

	head := n.mustRun(t, "head", "authors")
	assert.Contains(t, head, "authors: id=0 sha256="+added.NewHash)

	out = n.mustRun(t, "verify", "-o", "json", "authors", "articles", "article_paragraphs")
	var reports []verify.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.True(t, r.Valid, r.Table)
		assert.EqualValues(t, 1, r.Rows, r.Table)
	}

	status := n.mustRun(t, "status")
	assert.Contains(t, status, "authors (1 rows")
	assert.Contains(t, status, "Checkpoint: id=0")
}

func TestVerifyDetectsTampering(t *testing.T) {
	n := newTestNode(t)
	n.mustRun(t, "init")
	n.mustRun(t, "add", "author", "Xtchd Admins")
	n.mustRun(t, "add", "author", "Some guy")

	s, err := sqlitestore.Open(context.Background(), n.dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Tamper(context.Background(), "authors", 1, "name", "Someone else"))
	require.NoError(t, s.Close())

	out, err := n.run(t, "verify", "authors")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tampering detected in 1 of 1 table(s)")
	assert.Contains(t, out, "TAMPERED")
	assert.Contains(t, out, "hash_mismatch")
}

func TestAddRejectsBadArguments(t *testing.T) {
	n := newTestNode(t)
	n.mustRun(t, "init")

	_, err := n.run(t, "add", "article", "x", "Title")
	assert.ErrorContains(t, err, `invalid auth_id "x"`)

	_, err = n.run(t, "add", "video", "0", "abc", "Title", "2023-13-45")
	assert.Error(t, err)

	_, err = n.run(t, "head", "no_such_table")
	assert.ErrorContains(t, err, "is not a chained table")

	_, err = n.run(t, "verify", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestWatchRequiresReplication(t *testing.T) {
	n := newTestNode(t)
	_, err := n.run(t, "watch")
	assert.ErrorContains(t, err, "replication is not enabled")
}
