// Package capture pulls values out of a resolved response so later checks
// in the same file can use them as {{name}} variables.
//
// Sources are the status code, a header, the whole body, a JSON path into the
// body (gjson syntax, with [n] accepted for array indexes) and a single chunk
// of an accumulated body.
package capture
