package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/Standard-Labs/real-intent/internal/mockbigdbm"
)

func main() {
	addr := defaultString("MOCK_BIGDBM_ADDR", ":8080")
	fixturePath := defaultString("MOCK_BIGDBM_FIXTURE", "")
	clientID := defaultString("MOCK_BIGDBM_CLIENT_ID", "mock-client")
	clientSecret := defaultString("MOCK_BIGDBM_CLIENT_SECRET", "mock-secret")
	pageSize := defaultInt("MOCK_BIGDBM_PAGE_SIZE", 0)

	fs := flag.NewFlagSet("mock-bigdbm", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&fixturePath, "fixture", fixturePath, "JSON fixture with events and people (also supports env: MOCK_BIGDBM_FIXTURE)")
	fs.StringVar(&clientID, "client-id", clientID, "Accepted OAuth client id")
	fs.StringVar(&clientSecret, "client-secret", clientSecret, "Accepted OAuth client secret")
	fs.IntVar(&pageSize, "page-size", pageSize, "Events per result page (0 keeps the server default)")
	_ = fs.Parse(os.Args[1:])

	srv := mockbigdbm.New(clientID, clientSecret)
	if fixturePath != "" {
		fixture, err := loadFixture(fixturePath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
			os.Exit(1)
		}
		srv.Load(fixture)
	}
	if pageSize > 0 {
		srv.SetPageSize(pageSize)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-bigdbm listening on %s (fixture=%q)\n", addr, fixturePath)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func loadFixture(path string) (mockbigdbm.Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return mockbigdbm.Fixture{}, err
	}
	defer f.Close()
	return mockbigdbm.ReadFixture(f)
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(envVar string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envVar)))
	if err != nil {
		return fallback
	}
	return n
}
