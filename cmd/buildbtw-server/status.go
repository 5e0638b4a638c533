package main

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/buildbtw/buildbtw"
	"github.com/buildbtw/buildbtw/internal/store"
)

// server holds the dependencies the /status page reads from; it never
// mutates the control loop's state, so it needs no lock of its own beyond
// what the store already provides.
type server struct {
	store     *store.Store
	sourceDir string
}

type namespaceStatus struct {
	Namespace   *buildbtw.Namespace
	IterationID string
	Counts      map[buildbtw.ConcreteArchitecture]map[buildbtw.PackageBuildStatus]int
}

var statusTmpl = template.Must(template.New("status").Funcs(template.FuncMap{
	"formatBytes": formatBytes,
}).Parse(`<!DOCTYPE html>
<html>
<head><title>buildbtw status</title></head>
<body>
<h1>namespaces</h1>
{{ range .Namespaces }}
<h2>{{ .Namespace.Name }} ({{ .Namespace.ID }}) — {{ .Namespace.Status }}</h2>
{{ if eq .IterationID "" }}
<p>no iteration yet</p>
{{ else }}
<p>newest iteration: <code>{{ .IterationID }}</code></p>
<table border=1 cellpadding=4>
<tr><th>arch</th><th>blocked</th><th>pending</th><th>scheduled</th><th>building</th><th>built</th><th>failed</th></tr>
{{ range $arch, $counts := .Counts }}
<tr>
<td>{{ $arch }}</td>
<td>{{ index $counts 0 }}</td>
<td>{{ index $counts 1 }}</td>
<td>{{ index $counts 2 }}</td>
<td>{{ index $counts 3 }}</td>
<td>{{ index $counts 4 }}</td>
<td>{{ index $counts 5 }}</td>
</tr>
{{ end }}
</table>
{{ end }}
{{ end }}
<h1>system status</h1>
<p>free disk space {{ formatBytes .DiskSpace }}</p>
</body>
</html>`))

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// serveStatusPage summarizes every active namespace's newest iteration by
// per-architecture node status counts, plus free disk space in the source
// checkout root, mirroring autobuilder.go's serveStatusPage.
func (s *server) serveStatusPage(w http.ResponseWriter, r *http.Request) {
	if err := func() error {
		namespaces, err := s.store.ListActiveNamespaces()
		if err != nil {
			return err
		}
		sort.Slice(namespaces, func(i, j int) bool { return namespaces[i].ID < namespaces[j].ID })

		statuses := make([]namespaceStatus, 0, len(namespaces))
		for _, ns := range namespaces {
			it, err := s.store.NewestIteration(ns.ID)
			if err != nil {
				return err
			}
			nsStatus := namespaceStatus{Namespace: ns}
			if it != nil {
				nsStatus.IterationID = it.ID
				nsStatus.Counts = make(map[buildbtw.ConcreteArchitecture]map[buildbtw.PackageBuildStatus]int, len(it.PackagesToBeBuilt))
				for arch, graph := range it.PackagesToBeBuilt {
					counts := make(map[buildbtw.PackageBuildStatus]int, 6)
					for _, node := range graph.Nodes() {
						counts[node.Status]++
					}
					nsStatus.Counts[arch] = counts
				}
			}
			statuses = append(statuses, nsStatus)
		}

		var fs unix.Statfs_t
		if err := unix.Statfs(s.sourceDir, &fs); err != nil {
			log.Println(err)
		}

		var buf bytes.Buffer
		if err := statusTmpl.Execute(&buf, struct {
			Namespaces []namespaceStatus
			DiskSpace  uint64
		}{
			Namespaces: statuses,
			DiskSpace:  fs.Bavail * uint64(fs.Bsize),
		}); err != nil {
			return err
		}
		_, err = io.Copy(w, &buf)
		return err
	}(); err != nil {
		log.Printf("%v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
