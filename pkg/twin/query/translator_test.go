package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/twinstore/pkg/twin/query"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

func TestIsDeclarative(t *testing.T) {
	assert.True(t, query.IsDeclarative("SELECT * FROM digitaltwins"))
	assert.True(t, query.IsDeclarative("select count() from digitaltwins"))
	assert.False(t, query.IsDeclarative("MATCH (t) RETURN t"))
	// A SELECT keyword inside a native query does not change the surface form.
	assert.False(t, query.IsDeclarative("MATCH (t) WHERE t.name = 'select' RETURN t"))
}

func TestTranslate_SelectAll(t *testing.T) {
	tr, err := query.Translate("SELECT * FROM digitaltwins")
	assert.NoError(t, err)
	assert.Equal(t, "MATCH (t:Twin) RETURN t", tr.Cypher)
	assert.Equal(t, []string{"t"}, tr.Columns)
	assert.False(t, tr.ReadWrite)
	assert.False(t, tr.HasAggregates)
}

func TestTranslate_SelectWithAlias(t *testing.T) {
	tr, err := query.Translate("SELECT * FROM digitaltwins dt")
	assert.NoError(t, err)
	assert.Equal(t, "MATCH (dt:Twin) RETURN dt", tr.Cypher)
	assert.Equal(t, []string{"dt"}, tr.Columns)
}

func TestTranslate_Count(t *testing.T) {
	tr, err := query.Translate("SELECT COUNT() FROM digitaltwins")
	assert.NoError(t, err)
	assert.Equal(t, "MATCH (t:Twin) RETURN count(t)", tr.Cypher)
	assert.Equal(t, []string{"c0"}, tr.Columns)
	assert.True(t, tr.HasAggregates)
}

func TestTranslate_Top(t *testing.T) {
	tr, err := query.Translate("SELECT TOP(3) * FROM digitaltwins")
	assert.NoError(t, err)
	assert.Equal(t, "MATCH (t:Twin) RETURN t LIMIT 3", tr.Cypher)
}

func TestTranslate_Relationships(t *testing.T) {
	tr, err := query.Translate("SELECT * FROM relationships")
	assert.NoError(t, err)
	assert.Equal(t, "MATCH ()-[r]->() RETURN r", tr.Cypher)
	assert.Equal(t, []string{"r"}, tr.Columns)
}

func TestTranslate_WherePrefixesProperties(t *testing.T) {
	tr, err := query.Translate("SELECT * FROM digitaltwins WHERE temperature > 20 AND name = 'lobby'")
	assert.NoError(t, err)
	assert.Equal(t, "MATCH (t:Twin) WHERE t.temperature > 20 AND t.name = 'lobby' RETURN t", tr.Cypher)
}

func TestTranslate_WhereKeepsQualifiedReferences(t *testing.T) {
	tr, err := query.Translate("SELECT * FROM digitaltwins dt WHERE dt.temperature > 20")
	assert.NoError(t, err)
	assert.Equal(t, "MATCH (dt:Twin) WHERE dt.temperature > 20 RETURN dt", tr.Cypher)
}

func TestTranslate_IsOfModel(t *testing.T) {
	tr, err := query.Translate("SELECT * FROM digitaltwins WHERE IS_OF_MODEL('dtmi:example:Room;1')")
	assert.NoError(t, err)
	assert.Equal(t,
		"MATCH (t:Twin) WHERE t.`$metadata`.`$model` = 'dtmi:example:Room;1' RETURN t",
		tr.Cypher)
	assert.True(t, tr.HasAggregates)
}

func TestTranslate_RejectsMutatingNativeQuery(t *testing.T) {
	for _, q := range []string{
		"MATCH (t) DETACH DELETE t",
		"CREATE (t:Twin {id: 'x'}) RETURN t",
		"MATCH (t) SET t.name = 'x' RETURN t",
	} {
		_, err := query.Translate(q)
		assert.Error(t, err, q)
		assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
	}
}

func TestTranslate_MutatingWordInLiteralIsAllowed(t *testing.T) {
	tr, err := query.Translate("MATCH (t) WHERE t.action = 'delete me' RETURN t")
	assert.NoError(t, err)
	assert.False(t, tr.ReadWrite)
}

func TestTranslate_VarLengthPatternIsReadWrite(t *testing.T) {
	tr, err := query.Translate("MATCH (a)-[*1..3]->(b) RETURN b")
	assert.NoError(t, err)
	assert.True(t, tr.ReadWrite)

	tr, err = query.Translate("MATCH (a)-[e:contains]->(b) RETURN b")
	assert.NoError(t, err)
	assert.False(t, tr.ReadWrite)
}

func TestTranslate_UnsupportedDeclarativeFails(t *testing.T) {
	_, err := query.Translate("SELECT name FROM digitaltwins")
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
}

func TestReturnColumns(t *testing.T) {
	tr, err := query.Translate("MATCH (t) RETURN t")
	assert.NoError(t, err)
	assert.Equal(t, []string{"t"}, tr.Columns)

	tr, err = query.Translate("MATCH (t) RETURN t.name AS name, t.temperature AS temp")
	assert.NoError(t, err)
	assert.Equal(t, []string{"name", "temp"}, tr.Columns)

	tr, err = query.Translate("MATCH (t) RETURN t.name, count(t) ORDER BY t.name LIMIT 5")
	assert.NoError(t, err)
	assert.Equal(t, []string{"c0", "c1"}, tr.Columns)
	assert.True(t, tr.HasAggregates)
}
