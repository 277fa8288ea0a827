// Package appfs embeds the files the binaries need at runtime.
package appfs

import "embed"

//go:embed migrations/*.sql
//go:embed templates/*.gohtml templates/admin/*.gohtml templates/email/*
//go:embed static/*
//go:embed common-passwords.txt
var FS embed.FS

const (
	MigrationsDir       = "migrations"
	TemplatesDir        = "templates"
	EmailTemplatesDir   = "templates/email"
	StaticDir           = "static"
	CommonPasswordsFile = "common-passwords.txt"
)
