package main

import (
	"os"

	"github.com/deploys-app/registry/registry"

	_ "github.com/deploys-app/registry/registry/storage/driver/filesystem"
	_ "github.com/deploys-app/registry/registry/storage/driver/inmemory"
	_ "github.com/deploys-app/registry/registry/storage/driver/s3"
)

func main() {
	if err := registry.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
