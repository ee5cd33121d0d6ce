// Command build runs the repository's checks: go run ./build [vet|test|all].
package main

import (
	"flag"
	"os/exec"

	"github.com/goyek/goyek/v2"
	"github.com/goyek/goyek/v2/middleware"
)

var short = flag.Bool("short", false, "skip tests that start servers or watch the filesystem")

func run(a *goyek.A, name string, args ...string) {
	a.Helper()
	a.Log("exec:", name, args)
	cmd := exec.CommandContext(a.Context(), name, args...)
	cmd.Stdout = a.Output()
	cmd.Stderr = a.Output()
	if err := cmd.Run(); err != nil {
		a.Error(err)
	}
}

var vet = goyek.Define(goyek.Task{
	Name:  "vet",
	Usage: "Run go vet on all packages",
	Action: func(a *goyek.A) {
		run(a, "go", "vet", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "Run the test suite with the race detector",
	Action: func(a *goyek.A) {
		args := []string{"test", "-race"}
		if *short {
			args = append(args, "-short")
		}
		run(a, "go", append(args, "./...")...)
	},
})

var all = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "vet and test",
	Deps:  goyek.Deps{vet, test},
})

func main() {
	flag.Parse()
	goyek.SetDefault(all)
	goyek.Use(middleware.ReportStatus)
	goyek.Main(flag.Args())
}
