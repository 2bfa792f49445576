package main

import (
	"fmt"
	"os"
	"path/filepath"
)

const sampleConfig = `clusters:
  main:
    name: app
    host: 127.0.0.1
    port: 5432
    user: postgres
    pass: <ENV.PGPASSWORD>
    path: schema
    pref: app_

customFields:
  id:
    type: serial
    key: primary
  str:
    type: varchar(64)
  email:
    type: varchar(128)

seedPath: seed
displayMode: list
`

const sampleDeclaration = `users:
  user_id: id
  user_name: "str required"
  user_email: "email unique index"
  user_bio: text
  created_at: "timestamp default/now()"
`

const sampleSeed = `users:
  - { user_id: 1, user_name: admin, user_email: admin@example.com }
`

// writeSampleFiles lays down a starter configuration, declaration, and seed
// file. Existing files are never overwritten.
func writeSampleFiles(dir string) error {
	samples := []struct {
		path    string
		content string
	}{
		{filepath.Join(dir, "pgdecl.yml"), sampleConfig},
		{filepath.Join(dir, "schema", "tables.yml"), sampleDeclaration},
		{filepath.Join(dir, "seed", "users.yml"), sampleSeed},
	}

	for _, sample := range samples {
		if _, err := os.Stat(sample.path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", sample.path)
		}
		if err := os.MkdirAll(filepath.Dir(sample.path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(sample.path, []byte(sample.content), 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", sample.path)
	}
	return nil
}
