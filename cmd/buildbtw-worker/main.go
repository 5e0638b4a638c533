// Command buildbtw-worker is the local build worker internal/executor.LocalExecutor
// dispatches to: it accepts scheduled builds over HTTP and runs each one as
// a single external command, reporting status back the way autobuilder.go's
// runJob tracked a build's stamp-file progress, but over the wire instead of
// via a shared filesystem.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/buildbtw/buildbtw"
)

func main() {
	var (
		listen   = flag.String("listen", ":8090", "address LocalExecutor dispatches builds to")
		buildCmd = flag.String("build_cmd", "true", "command invoked as `build_cmd pkgbase commit_hash architecture` for each dispatched build; the actual package build toolchain is out of scope here, so this defaults to a no-op")
		dryRun   = flag.Bool("dry_run", false, "mark every dispatched build as succeeded without invoking -build_cmd")
	)
	flag.Parse()

	ctx, canc := buildbtw.InterruptibleContext()
	defer canc()

	w := newWorker(*buildCmd, *dryRun)
	mux := http.NewServeMux()
	mux.HandleFunc("/build/schedule", w.handleSchedule)
	mux.HandleFunc("/build/status/", w.handleStatus)

	srv := &http.Server{Addr: *listen, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Printf("buildbtw-worker listening on %s, build_cmd=%q", *listen, *buildCmd)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("%+v", err)
	}
}
