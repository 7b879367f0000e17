// Package env resolves {{...}} placeholders in check files.
//
// A placeholder names a variable ({{token}}), an environment variable
// ({{$HOME}}) or a built-in function ({{uuid()}}, {{timestamp()}},
// {{timestampMs()}}, {{date()}}). Variables come from the check file, .env
// files and the command line.
package env
