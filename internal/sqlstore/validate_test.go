package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		query string
		ok    bool
	}{
		{"plain select", "SELECT * FROM T", true},
		{"lowercase select", "select id, name from customers where id = 3", true},
		{"cte", "WITH recent AS (SELECT * FROM Orders) SELECT * FROM recent", true},
		{"trailing semicolon", "SELECT * FROM T;", true},
		{"trailing semicolon with spaces", "  SELECT 1;  ", true},
		{"column containing keyword", "SELECT last_update, created_at FROM T", true},
		{"empty", "", false},
		{"whitespace", "   ", false},
		{"stacked statements", "select * from t; select 1", false},
		{"drop", "DROP TABLE T", false},
		{"exec procedure", "EXEC sp_who", false},
		{"update", "UPDATE T SET x=1", false},
		{"select into", "SELECT * INTO Backup FROM T", false},
		{"cte delete", "WITH x AS (SELECT 1 AS a) DELETE FROM T", false},
		{"procedure in select", "SELECT * FROM T WHERE id = xp_cmdshell('dir')", false},
		{"waitfor", "SELECT 1 WAITFOR DELAY '00:00:05'", false},
		{"openrowset", "SELECT * FROM OPENROWSET('x','y','z')", false},
		{"leading comment", "-- hi\nSELECT 1", false},
		{"semicolon in middle", "SELECT ';' FROM T", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReadOnly(tt.query)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotEmpty(t, ve.Reason)
		})
	}
}

func TestValidateReadOnlyReportsKeyword(t *testing.T) {
	err := ValidateReadOnly("SELECT * FROM T WHERE 1=1 OR truncate = 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUNCATE")
}

func TestValidateReadOnlyOrder(t *testing.T) {
	err := ValidateReadOnly("DELETE FROM T; SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only SELECT or WITH")
}

func TestEnforceRowLimitMSSQL(t *testing.T) {
	d := MSSQL{}
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"inject", "SELECT * FROM T", "SELECT TOP 50 * FROM T"},
		{"clamp", "SELECT TOP 1000 * FROM T", "SELECT TOP 50 * FROM T"},
		{"keep smaller", "SELECT TOP 10 * FROM T", "SELECT TOP 10 * FROM T"},
		{"parenthesized", "SELECT TOP (900) id FROM T", "SELECT TOP (50) id FROM T"},
		{"percent", "SELECT TOP 100 PERCENT * FROM T", "SELECT TOP 50 * FROM T"},
		{"small percent", "SELECT TOP (10) percent id FROM T", "SELECT TOP (50) id FROM T"},
		{"distinct inject", "SELECT DISTINCT name FROM T", "SELECT DISTINCT TOP 50 name FROM T"},
		{"distinct clamp", "select distinct top 75 name from T", "select distinct top 50 name from T"},
		{"strip semicolon", "SELECT * FROM T;", "SELECT TOP 50 * FROM T"},
		{"cte untouched", "WITH x AS (SELECT 1 AS a) SELECT * FROM x", "WITH x AS (SELECT 1 AS a) SELECT * FROM x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnforceRowLimit(tt.query, 50, d))
		})
	}
}

func TestEnforceRowLimitSQLite(t *testing.T) {
	d := SQLite{}
	assert.Equal(t, "SELECT * FROM t LIMIT 50", EnforceRowLimit("SELECT * FROM t", 50, d))
	assert.Equal(t, "SELECT * FROM t LIMIT 50", EnforceRowLimit("SELECT * FROM t LIMIT 1000;", 50, d))
	assert.Equal(t, "SELECT * FROM t limit 10", EnforceRowLimit("SELECT * FROM t limit 10", 50, d))
	assert.Equal(t, "SELECT * FROM t LIMIT 50 OFFSET 5", EnforceRowLimit("SELECT * FROM t LIMIT 1000 OFFSET 5", 50, d))
	assert.Equal(t, "SELECT * FROM t LIMIT 10 offset 20", EnforceRowLimit("SELECT * FROM t LIMIT 10 offset 20", 50, d))
	assert.Equal(t, "SELECT * FROM t LIMIT 5, 50", EnforceRowLimit("SELECT * FROM t LIMIT 5, 1000", 50, d))
	assert.Equal(t, "SELECT * FROM t LIMIT 500,10", EnforceRowLimit("SELECT * FROM t LIMIT 500,10", 50, d))
	assert.Equal(t, "WITH x AS (SELECT 1) SELECT * FROM x LIMIT 5",
		EnforceRowLimit("WITH x AS (SELECT 1) SELECT * FROM x", 5, d))
}

func TestValidateThenLimitAreIndependent(t *testing.T) {
	// The limiter does not validate; callers must run ValidateReadOnly first.
	assert.Equal(t, "DELETE FROM T", EnforceRowLimit("DELETE FROM T", 50, MSSQL{}))
}

func TestParseTableName(t *testing.T) {
	tests := []struct {
		in, schema, table string
	}{
		{"Orders", "", "Orders"},
		{"dbo.Orders", "dbo", "Orders"},
		{"[dbo].[Order Details]", "dbo", "Order Details"},
		{"Sales.dbo.Orders", "dbo", "Orders"},
		{"srv.Sales.[dbo].[Orders]", "dbo", "Orders"},
		{`"main"."users"`, "main", "users"},
		{"`users`", "", "users"},
		{"  ", "", ""},
	}
	for _, tt := range tests {
		schema, table := ParseTableName(tt.in)
		assert.Equal(t, tt.schema, schema, tt.in)
		assert.Equal(t, tt.table, table, tt.in)
	}
}

func TestFormatGUID(t *testing.T) {
	b := []byte{0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	assert.Equal(t, "00112233-4455-6677-8899-AABBCCDDEEFF", formatGUID(b))
}
