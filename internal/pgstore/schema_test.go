package pgstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

func TestSchemaCoversEveryClass(t *testing.T) {
	ddl, err := Schema()
	require.NoError(t, err)

	for _, c := range content.Classes() {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+c.Table+" (")
		assert.Contains(t, ddl, "CONSTRAINT "+c.Table+"_sha256 CHECK")
		assert.Contains(t, ddl, "CREATE TRIGGER "+c.Table+"_append_only BEFORE UPDATE OR DELETE ON "+c.Table)
		assert.Contains(t, ddl, "CREATE TRIGGER "+c.Table+"_no_truncate BEFORE TRUNCATE ON "+c.Table)
		assert.Contains(t, ddl, "REFERENCES "+c.Table+" ("+c.IDColumn+", new_sha256)")
	}
	assert.Contains(t, ddl, "prior_sha256 = '"+hash.Genesis+"'")
}

func TestSchemaHashesOnlyHashedColumns(t *testing.T) {
	ddl, err := Schema()
	require.NoError(t, err)

	assert.Contains(t, ddl, "'vid_id=%s vid_pk=%s chan_id=%s title=%s write_timestamp=%s prior_sha256=%s',\n        vid_id, vid_pk, chan_id, title, to_char(")
	assert.Contains(t, ddl, "date_uploaded DATE NOT NULL")
	assert.Contains(t, ddl, "sec_req SMALLINT,")
}

func class(t *testing.T, table string) *content.Class {
	t.Helper()
	c, ok := content.ByTable(table)
	require.True(t, ok, table)
	return c
}

func TestInsertSQL(t *testing.T) {
	got := insertSQL(class(t, content.TableAuthors))
	assert.Equal(t,
		"INSERT INTO authors (prior_id, auth_id, name, prior_sha256, write_timestamp, new_sha256) VALUES ($1, $2, $3, $4, $5, $6)",
		got)

	videos := insertSQL(class(t, content.TableYoutubeVideos))
	assert.True(t, strings.Contains(videos, "$6::text::date"), videos)
}

func TestInsertArgs(t *testing.T) {
	env := chain.Append(chain.GenesisHead(), content.Record(content.Author{AuthID: 0, Name: "Xtchd Admins"}), adminsTS)
	args := insertArgs(env)

	require.Len(t, args, 6)
	assert.Nil(t, args[0])
	assert.Equal(t, int32(0), args[1])
	assert.Equal(t, "Xtchd Admins", args[2])
	assert.Equal(t, hash.Genesis, args[3])
	assert.Equal(t, adminsHash, args[5])
}
