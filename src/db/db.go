package db

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/opencompanion/companion/src/oops"
)

/*
A general error to be used when no results are found. This is the error returned
by QueryOne, and can generally be used by other database helpers that fetch a single
result but find nothing.
*/
var NotFound = errors.New("not found")

/*
Performs a SQL query and returns a slice of all the result rows. You must explicitly
provide the type argument - this is how it knows what Go type to map the results to,
and it cannot be inferred.

Any SQL query may be performed, including INSERT and UPDATE - as long as it returns a
result set, you can use this. If the query does not return a result set, call Exec
directly on your pgx connection.
*/
func Query[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]*T, error) {
	compiled := compileQuery(query, reflect.TypeOf((*T)(nil)).Elem())

	rows, err := conn.Query(ctx, compiled.query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*T
	for rows.Next() {
		dest := new(T)
		if err := rows.Scan(compiled.scanTargets(reflect.ValueOf(dest))...); err != nil {
			return nil, oops.New(err, "failed to scan row into %T", dest)
		}
		result = append(result, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.New(err, "error while iterating through db results")
	}

	return result, nil
}

/*
Identical to Query, but returns only the first result row. If there are no
rows in the result set, returns NotFound.
*/
func QueryOne[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (*T, error) {
	results, err := Query[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, NotFound
	}
	return results[0], nil
}

/*
Identical to Query, but returns concrete values instead of pointers. More convenient
for primitive types.
*/
func QueryScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]T, error) {
	results, err := Query[T](ctx, conn, query, args...)
	if err != nil {
		return nil, err
	}

	values := make([]T, len(results))
	for i, r := range results {
		values[i] = *r
	}
	return values, nil
}

/*
Identical to QueryScalar, but returns only the first result value. If there are
no rows in the result set, returns NotFound.
*/
func QueryOneScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (T, error) {
	result, err := QueryOne[T](ctx, conn, query, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return *result, nil
}

type compiledQuery struct {
	query      string
	destType   reflect.Type
	fieldPaths []fieldPath // nil for scalar destinations
}

// Pointers into dest (a pointer to the destination type) for rows.Scan.
func (q compiledQuery) scanTargets(dest reflect.Value) []any {
	if q.fieldPaths == nil {
		return []any{dest.Interface()}
	}

	targets := make([]any, len(q.fieldPaths))
	for i, path := range q.fieldPaths {
		field, _ := followPathThroughStructs(dest, path)
		targets[i] = field.Addr().Interface()
	}
	return targets
}

var reColumnsPlaceholder = regexp.MustCompile(`\$columns({(.*?)})?`)

func compileQuery(query string, destType reflect.Type) compiledQuery {
	columnsMatch := reColumnsPlaceholder.FindStringSubmatch(query)
	if columnsMatch == nil {
		return compiledQuery{
			query:    query,
			destType: destType,
		}
	}

	// The presence of the $columns placeholder means that the destination type
	// must be a struct, and we will plonk that struct's fields into the query.
	if destType.Kind() != reflect.Struct {
		panic("$columns can only be used when querying into a struct")
	}

	var prefix []string
	if prefixText := columnsMatch[2]; prefixText != "" {
		prefix = []string{prefixText}
	}

	columnNames, fieldPaths := getColumnNamesAndPaths(destType, nil, prefix)

	columns := make([]string, 0, len(columnNames))
	for _, strSlice := range columnNames {
		tableName := strings.Join(strSlice[0:len(strSlice)-1], "_")
		fullName := strSlice[len(strSlice)-1]
		if tableName != "" {
			fullName = tableName + "." + fullName
		}
		columns = append(columns, fullName)
	}

	return compiledQuery{
		query:      reColumnsPlaceholder.ReplaceAllString(query, strings.Join(columns, ", ")),
		destType:   destType,
		fieldPaths: fieldPaths,
	}
}

func getColumnNamesAndPaths(destType reflect.Type, pathSoFar []int, prefix []string) (names []columnName, paths []fieldPath) {
	if destType.Kind() == reflect.Ptr {
		destType = destType.Elem()
	}

	if destType.Kind() != reflect.Struct {
		panic(fmt.Errorf("can only get column names and paths from a struct, got type '%v' (at prefix '%v')", destType.Name(), prefix))
	}

	for i := 0; i < destType.NumField(); i++ {
		field := destType.Field(i)
		columnName := field.Tag.Get("db")
		if columnName == "" {
			continue
		}

		path := make([]int, len(pathSoFar), len(pathSoFar)+1)
		copy(path, pathSoFar)
		path = append(path, i)

		fieldColumnNames := make([]string, len(prefix), len(prefix)+1)
		copy(fieldColumnNames, prefix)
		fieldColumnNames = append(fieldColumnNames, columnName)

		fieldType := field.Type
		if fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}

		if isLeafType(fieldType) {
			names = append(names, fieldColumnNames)
			paths = append(paths, path)
		} else {
			subCols, subPaths := getColumnNamesAndPaths(fieldType, path, fieldColumnNames)
			names = append(names, subCols...)
			paths = append(paths, subPaths...)
		}
	}

	return names, paths
}

var leafStructTypes = []reflect.Type{
	reflect.TypeOf(time.Time{}),
}

// Structs are descended into for more db tags; anything else is handed to pgx
// to scan directly.
func isLeafType(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return true
	}
	for _, leaf := range leafStructTypes {
		if t == leaf {
			return true
		}
	}
	return false
}

type columnName []string

// A path to a particular field in query's destination type. Each index in the slice
// corresponds to a field index for use with Field on a reflect.Type or reflect.Value.
type fieldPath []int

func followPathThroughStructs(structPtrVal reflect.Value, path []int) (reflect.Value, reflect.StructField) {
	if len(path) < 1 {
		panic(oops.New(nil, "can't follow an empty path"))
	}

	if structPtrVal.Kind() != reflect.Ptr || structPtrVal.Elem().Kind() != reflect.Struct {
		panic(oops.New(nil, "structPtrVal must be a pointer to a struct; got value of type %s", structPtrVal.Type()))
	}

	var field reflect.StructField
	val := structPtrVal
	for _, i := range path {
		if val.Kind() == reflect.Ptr && val.Type().Elem().Kind() == reflect.Struct {
			if val.IsNil() {
				val.Set(reflect.New(val.Type().Elem()))
			}
			val = val.Elem()
		}
		field = val.Type().Field(i)
		val = val.Field(i)
	}
	return val, field
}
