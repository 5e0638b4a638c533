// Command buildbtw-server runs the namespace control loop described in
// spec §4.6 as a long-lived process: it ticks every namespace on a fixed
// interval, dispatching new builds to GitHub Actions and folding back their
// status, and exposes a /status page the way autobuilder.go does.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/controlloop"
	"github.com/buildbtw/buildbtw/internal/executor"
	"github.com/buildbtw/buildbtw/internal/githubexec"
	"github.com/buildbtw/buildbtw/internal/originpoll"
	"github.com/buildbtw/buildbtw/internal/sourcerepo"
	"github.com/buildbtw/buildbtw/internal/store"
)

func main() {
	var (
		sourceDir   = flag.String("source_dir", "", "directory of bare-or-worktree git repositories, one per tracked pkgbase")
		storeDir    = flag.String("store_dir", "/var/lib/buildbtw", "directory the store persists namespaces, iterations and pipelines under")
		listen      = flag.String("listen", ":3719", "address the /status page listens on")
		interval    = flag.Duration("interval", 10*time.Second, "namespace control loop tick interval")
		once        = flag.Bool("once", false, "do one tick instead of looping forever")
		githubRepo  = flag.String("github_repo", "", "https://github.com/<owner>/<repo> whose Actions workflow builds dispatched packages; takes priority over -worker_addr")
		githubWf    = flag.String("github_workflow", "build.yml", "workflow file name (or numeric id) dispatched for each build")
		githubToken = flag.String("github_access_token", "", "oauth2 GitHub access token; used to dispatch/poll workflow runs, and, if set, to run the remote-catalog poller against every origin's GitHub remote")
		workerAddr  = flag.String("worker_addr", "", "http://host:port of a buildbtw-worker process to dispatch builds to; ignored if -github_repo is set; leave both empty to only track metadata without dispatching")
	)
	flag.Parse()

	if *sourceDir == "" {
		log.Fatal("-source_dir is required")
	}

	ctx, canc := buildbtw.InterruptibleContext()
	defer canc()

	st, err := store.Open(*storeDir)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	provider := sourcerepo.NewDirProvider(*sourceDir)

	var exec executor.Executor
	switch {
	case *githubRepo != "":
		gh, err := githubexec.New(ctx, *githubRepo, *githubWf, *githubToken)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		exec = gh
	case *workerAddr != "":
		exec = executor.NewLocalExecutor(*workerAddr)
	}

	loop := controlloop.New(st, provider, exec, newIterationID)
	if *githubToken != "" {
		loop.Poller = originpoll.New(ctx, *githubToken)
		loop.RemoteURL = provider.RemoteURL
	}

	srv := &server{store: st, sourceDir: *sourceDir}
	http.HandleFunc("/status", srv.serveStatusPage)
	go func() {
		if err := http.ListenAndServe(*listen, nil); err != nil {
			log.Printf("status server: %v", err)
		}
	}()

	if *once {
		if err := loop.Tick(ctx); err != nil {
			log.Fatalf("%+v", err)
		}
		return
	}
	loop.Run(ctx, *interval)
}

// newIterationID is the IDGenerator wired into production use; tests of
// the control loop itself inject their own deterministic generator.
func newIterationID() string {
	return time.Now().UTC().Format("20060102T150405.000000000Z")
}
