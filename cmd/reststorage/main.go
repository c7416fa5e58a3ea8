package main

import (
	_ "net/http/pprof"

	"github.com/reststorage/reststorage/server"
	_ "github.com/reststorage/reststorage/storage/driver/filesystem"
	_ "github.com/reststorage/reststorage/storage/driver/redis"
)

func main() {
	// nolint:errcheck
	server.RootCmd.Execute()
}
