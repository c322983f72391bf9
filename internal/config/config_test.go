package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactivedb/reactivedb/internal/engine"
	"github.com/reactivedb/reactivedb/internal/value"
)

const usersSchemaTOML = `
[database]
name = "shop"

[[tables]]
name = "users"

[[tables.columns]]
name = "id"
type = "int64"
primary_key = true
auto_increment = true

[[tables.columns]]
name = "email"
type = "string"

[[tables.columns]]
name = "age"
type = "int32"
nullable = true

[[tables.columns]]
name = "profile"
type = "jsonb"
nullable = true

[[tables.indexes]]
name = "users_email_unique"
kind = "unique"
columns = ["email"]

[[tables.indexes]]
name = "users_profile_gin"
kind = "gin"
columns = ["profile"]
`

func TestLoadRegistersTableFromTOML(t *testing.T) {
	db := engine.New("shop")
	require.NoError(t, Load(db, strings.NewReader(usersSchemaTOML)))

	assert.True(t, db.HasTable("users"))
	assert.Equal(t, []string{"users"}, db.TableNames())

	ids, err := db.Insert("users").Row(map[string]value.Value{
		"email": value.String("a@example.com"),
		"age":   value.Int32(30),
	}).Exec()
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestLoadRejectsDuplicateEmailViaUniqueIndex(t *testing.T) {
	db := engine.New("shop")
	require.NoError(t, Load(db, strings.NewReader(usersSchemaTOML)))

	_, err := db.Insert("users").Row(map[string]value.Value{"email": value.String("dup@example.com")}).Exec()
	require.NoError(t, err)

	_, err = db.Insert("users").Row(map[string]value.Value{"email": value.String("dup@example.com")}).Exec()
	require.Error(t, err)
}

func TestLoadRejectsUnknownColumnType(t *testing.T) {
	db := engine.New("shop")
	doc := `
[[tables]]
name = "widgets"

[[tables.columns]]
name = "id"
type = "banana"
primary_key = true
`
	err := Load(db, strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestLoadRejectsGinIndexOverMultipleColumns(t *testing.T) {
	db := engine.New("shop")
	doc := `
[[tables]]
name = "docs"

[[tables.columns]]
name = "id"
type = "int64"
primary_key = true

[[tables.columns]]
name = "a"
type = "jsonb"
nullable = true

[[tables.columns]]
name = "b"
type = "jsonb"
nullable = true

[[tables.indexes]]
name = "bad_gin"
kind = "gin"
columns = ["a", "b"]
`
	err := Load(db, strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one jsonb column")
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	db := engine.New("shop")
	err := Load(db, strings.NewReader("this is not [ valid toml"))
	require.Error(t, err)
}
