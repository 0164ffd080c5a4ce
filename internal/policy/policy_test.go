package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMergeConfig() MergeConfig {
	cfg := DefaultMergeConfig()
	cfg.MergeLabel = "merge"
	cfg.MergeLinkedLabels = []string{"automerge"}
	cfg.OverrideLabel = "override"
	cfg.OverrideStatusContext = "gatekeeper/override"
	cfg.RequiredLabels = []string{"Z-.*", "Rel-.*"}
	cfg.ForbiddenLabels = []string{"do-not-merge"}
	cfg.RequiredLabelsWhenMergeReady = []string{"approved"}
	cfg.RequiredStatuses = []string{"glob:ci/*"}

	return cfg
}

func TestCompile(t *testing.T) {
	cfg := testMergeConfig()

	p, err := cfg.Compile()
	require.NoError(t, err)

	assert.Len(t, p.RequiredLabels, 2)
	assert.Len(t, p.ForbiddenLabels, 1)
	assert.Len(t, p.RequiredStatuses, 1)
	assert.Equal(t, DefaultSuccessText, p.SuccessText)
	assert.NotEmpty(t, p.DetailedString())
}

func TestCompileInvalid(t *testing.T) {
	testcases := map[string]func(*MergeConfig){
		"empty_status_context": func(c *MergeConfig) { c.StatusContext = "" },
		"linked_without_merge_label": func(c *MergeConfig) {
			c.MergeLabel = ""
		},
		"invalid_regex": func(c *MergeConfig) {
			c.ForbiddenLabels = []string{"("}
		},
		"override_context_equals_status_context": func(c *MergeConfig) {
			c.OverrideStatusContext = c.StatusContext
		},
		"override_context_without_label": func(c *MergeConfig) {
			c.OverrideLabel = ""
		},
	}

	for name, modify := range testcases {
		t.Run(name, func(t *testing.T) {
			cfg := testMergeConfig()
			modify(&cfg)

			_, err := cfg.Compile()
			assert.Error(t, err)
		})
	}
}

func TestLabelParticipates(t *testing.T) {
	cfg := testMergeConfig()
	p, err := cfg.Compile()
	require.NoError(t, err)

	for _, label := range []string{"merge", "automerge", "override", "Z-core", "do-not-merge", "approved"} {
		assert.True(t, p.LabelParticipates(label), label)
	}

	assert.False(t, p.LabelParticipates("documentation"))
}

func TestLabelRemovalRelevant(t *testing.T) {
	cfg := testMergeConfig()
	p, err := cfg.Compile()
	require.NoError(t, err)

	assert.True(t, p.LabelRemovalRelevant("Rel-1.0"))
	assert.True(t, p.LabelRemovalRelevant("do-not-merge"))
	assert.True(t, p.LabelRemovalRelevant("merge"))
	assert.False(t, p.LabelRemovalRelevant("automerge"))

	cfg.RequiredLabelsWhenMergeReady = nil
	p, err = cfg.Compile()
	require.NoError(t, err)
	assert.False(t, p.LabelRemovalRelevant("merge"))
}

func TestOwnsStatusContext(t *testing.T) {
	cfg := testMergeConfig()
	p, err := cfg.Compile()
	require.NoError(t, err)

	assert.True(t, p.OwnsStatusContext(DefaultStatusContext))
	assert.True(t, p.OwnsStatusContext("gatekeeper/override"))
	assert.False(t, p.OwnsStatusContext("ci/linux"))
}

func TestConflictCommentText(t *testing.T) {
	p := Policy{ConflictComment: "conflicts with %s"}
	assert.Equal(t, "conflicts with main", p.ConflictCommentText("main"))

	p.ConflictComment = "please rebase"
	assert.Equal(t, "please rebase", p.ConflictCommentText("main"))
}
