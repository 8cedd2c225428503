package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition_SingleName(t *testing.T) {
	node, err := parseCondition("crit")
	require.NoError(t, err)
	assert.True(t, node.eval(conditionEnv{selections: map[string]bool{"crit": true}}))
	assert.False(t, node.eval(conditionEnv{selections: map[string]bool{"crit": false}}))
}

func TestParseCondition_AndOrNot(t *testing.T) {
	node, err := parseCondition("a and b")
	require.NoError(t, err)
	env := func(a, b bool) conditionEnv { return conditionEnv{selections: map[string]bool{"a": a, "b": b}} }
	assert.True(t, node.eval(env(true, true)))
	assert.False(t, node.eval(env(true, false)))

	node, err = parseCondition("a or b")
	require.NoError(t, err)
	assert.True(t, node.eval(env(false, true)))
	assert.False(t, node.eval(env(false, false)))

	node, err = parseCondition("not a")
	require.NoError(t, err)
	assert.True(t, node.eval(conditionEnv{selections: map[string]bool{"a": false}}))
	assert.False(t, node.eval(conditionEnv{selections: map[string]bool{"a": true}}))
}

func TestParseCondition_Parens(t *testing.T) {
	node, err := parseCondition("(a or b) and not c")
	require.NoError(t, err)
	env := conditionEnv{selections: map[string]bool{"a": true, "b": false, "c": false}}
	assert.True(t, node.eval(env))
	env.selections["c"] = true
	assert.False(t, node.eval(env))
}

func TestParseCondition_QuantifierOneOf(t *testing.T) {
	node, err := parseCondition("1 of sel_*")
	require.NoError(t, err)
	env := conditionEnv{
		selections: map[string]bool{"sel_a": false, "sel_b": true, "other": true},
		names:      []string{"sel_a", "sel_b", "other"},
	}
	assert.True(t, node.eval(env))

	env.selections["sel_b"] = false
	assert.False(t, node.eval(env))
}

func TestParseCondition_QuantifierAllOf(t *testing.T) {
	node, err := parseCondition("all of sel_*")
	require.NoError(t, err)
	env := conditionEnv{
		selections: map[string]bool{"sel_a": true, "sel_b": true},
		names:      []string{"sel_a", "sel_b"},
	}
	assert.True(t, node.eval(env))

	env.selections["sel_b"] = false
	assert.False(t, node.eval(env))
}

func TestParseCondition_RejectsMalformedInput(t *testing.T) {
	_, err := parseCondition("(a and b")
	assert.Error(t, err)

	_, err = parseCondition("1 of")
	assert.Error(t, err)

	_, err = parseCondition("and a")
	assert.Error(t, err)

	_, err = parseCondition("")
	assert.Error(t, err)
}

func TestCollectNames_SkipsQuantifierGlobs(t *testing.T) {
	node, err := parseCondition("a and (1 of sel_*)")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, collectNames(node))
}
