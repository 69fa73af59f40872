package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

var base = time.Date(2023, time.March, 14, 15, 9, 26, 0, time.UTC)

func buildAuthors(names ...string) []chain.Envelope[content.Author] {
	head := chain.GenesisHead()
	out := make([]chain.Envelope[content.Author], 0, len(names))
	for i, name := range names {
		env := chain.Append(head, content.Author{AuthID: head.NextID(), Name: name}, base.Add(time.Duration(i)*time.Minute))
		out = append(out, env)
		head = env.Head()
	}
	return out
}

// flip changes the first hex digit of a digest.
func flip(digest string) string {
	if digest[0] == '0' {
		return "1" + digest[1:]
	}
	return "0" + digest[1:]
}

func TestVerifyRow(t *testing.T) {
	envs := buildAuthors("Xtchd Admins")
	require.NoError(t, VerifyRow(envs[0]))

	tampered := envs[0]
	tampered.Content.Name = "Xtchd Admin"
	tampered.Link = hash.LinkAt(tampered.PriorHash, tampered.Link.WriteTimestamp, tampered.Content)
	err := VerifyRow(tampered)
	require.Error(t, err)
	ie := chain.AsIntegrity(err)
	require.NotNil(t, ie)
	assert.Equal(t, chain.ReasonHashMismatch, ie.Reason)
	assert.Equal(t, envs[0].NewHash, ie.Expected)
}

func TestVerifyChainValid(t *testing.T) {
	report := VerifyChain(buildAuthors("a", "b", "c", "d"))
	assert.True(t, report.Valid)
	assert.Equal(t, int64(4), report.Rows)
	assert.Len(t, report.Results, 4)
	require.NotNil(t, report.Head)
	assert.Equal(t, int32(3), report.Head.ID)
	assert.Empty(t, report.Failures)
}

func TestVerifyChainEmpty(t *testing.T) {
	report := VerifyChain[content.Author](nil)
	assert.True(t, report.Valid)
	assert.Zero(t, report.Rows)
	assert.Nil(t, report.Head)
}

func TestVerifyChainDetectsProblems(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]chain.Envelope[content.Author]) []chain.Envelope[content.Author]
		badRow  int32
		reasons []chain.Reason
	}{
		{
			name: "stored hash flipped",
			mutate: func(envs []chain.Envelope[content.Author]) []chain.Envelope[content.Author] {
				envs[1].NewHash = flip(envs[1].NewHash)
				return envs[:2]
			},
			badRow:  1,
			reasons: []chain.Reason{chain.ReasonHashMismatch},
		},
		{
			name: "genesis with prior hash",
			mutate: func(envs []chain.Envelope[content.Author]) []chain.Envelope[content.Author] {
				return envs[1:]
			},
			badRow:  1,
			reasons: []chain.Reason{chain.ReasonBadGenesis},
		},
		{
			name: "row removed from the middle",
			mutate: func(envs []chain.Envelope[content.Author]) []chain.Envelope[content.Author] {
				return []chain.Envelope[content.Author]{envs[0], envs[2]}
			},
			badRow:  2,
			reasons: []chain.Reason{chain.ReasonBrokenLink},
		},
		{
			name: "prior hash rewritten consistently",
			mutate: func(envs []chain.Envelope[content.Author]) []chain.Envelope[content.Author] {
				// Rehashing a row with a forged prior hash keeps the row valid
				// on its own but breaks the link.
				forged := chain.Append(chain.Head{ID: 0, Hash: hash.CalculateString("forged")}, envs[1].Content, envs[1].Link.WriteTimestamp)
				return []chain.Envelope[content.Author]{envs[0], forged}
			},
			badRow:  1,
			reasons: []chain.Reason{chain.ReasonBrokenLink},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := tt.mutate(buildAuthors("a", "b", "c"))
			report := VerifyChain(envs)
			assert.False(t, report.Valid)

			var bad *RowResult
			for i := range report.Results {
				if !report.Results[i].Valid {
					bad = &report.Results[i]
					break
				}
			}
			require.NotNil(t, bad)
			assert.Equal(t, tt.badRow, bad.ID)
			assert.Equal(t, tt.reasons, bad.Reasons)
		})
	}
}

func TestTamperedRowDoesNotTaintPredecessor(t *testing.T) {
	envs := buildAuthors("Xtchd Admins", "Some guy")
	envs[1].NewHash = flip(envs[1].NewHash)

	report := VerifyChain(envs)
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Valid)
	assert.False(t, report.Results[1].Valid)
}

func TestWalkerAcrossPages(t *testing.T) {
	envs := buildAuthors("a", "b", "c", "d", "e")

	w := NewWalker(content.TableAuthors)
	for _, env := range envs[:2] {
		w.Next(env.Erase())
	}
	// Resume from the trusted head of the first page.
	resumed := NewWalkerFrom(content.TableAuthors, *w.Last())
	for _, env := range envs[2:] {
		res := resumed.Next(env.Erase())
		assert.True(t, res.Valid)
	}
	report := resumed.Report()
	assert.True(t, report.Valid)
	assert.Equal(t, int64(3), report.Rows)
	assert.Empty(t, report.Results, "only failing rows are kept by default")
}
