/*
This package contains lowish-level APIs for making database queries to our Postgres
database. It maps query results to Go types while still letting you write plain SQL.

Arguments use placeholders like $1, $2, etc., exactly as in pgx:

	names, err := db.QueryScalar[string](ctx, conn,
		`
		SELECT name
		FROM character
		WHERE id = ANY($1)
		`,
		[]uuid.UUID{adaID, graceID},
	)

To query multiple columns at once, use a struct type with `db:"column_name"` tags and
the special $columns placeholder:

	type Character struct {
		ID        uuid.UUID `db:"id"`
		Name      string    `db:"name"`
		CreatedAt time.Time `db:"created_at"`
	}
	chars, err := db.Query[Character](ctx, conn, `SELECT $columns FROM character`)
	// Resulting query:
	// SELECT id, name, created_at FROM character

When a JOIN makes column names ambiguous, give the placeholder a prefix:

	chars, err := db.Query[Character](ctx, conn, `
		SELECT $columns{c}
		FROM
			character AS c
			JOIN asset AS a ON a.id = c.avatar_asset_id
	`)
	// Resulting query:
	// SELECT c.id, c.name, c.created_at FROM ...

Nested structs with a db tag contribute their own fields, joined with an underscore
as the table prefix, which is handy for selecting from joined tables.
*/
package db
