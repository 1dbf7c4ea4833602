package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	nntpclient "github.com/skjaere/go-nntp-client"
)

func main() {
	host := flag.String("host", "localhost", "NNTP server host")
	port := flag.Int("port", 119, "NNTP server port")
	tls := flag.Bool("tls", false, "use TLS")
	user := flag.String("user", "", "AUTHINFO username")
	pass := flag.String("pass", "", "AUTHINFO password")
	maxConns := flag.Int("max-conns", 4, "max pool connections")
	flag.Parse()

	fmt.Println("NNTP CLI")
	fmt.Println("========")
	fmt.Println("Commands: group <name>, article <id>, head <id>, body <id>, stat <id>, next, last, date, capabilities, sleep, wake, stats, quit")
	fmt.Println()

	ctx := context.Background()
	pool, err := nntpclient.NewPool(ctx, nntpclient.Config{
		Host:           *host,
		Port:           *port,
		UseTLS:         *tls,
		Username:       *user,
		Password:       *pass,
		MaxConnections: *maxConns,
	})
	if err != nil {
		fmt.Printf("Failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		switch command {
		case "group":
			if len(parts) != 2 {
				fmt.Println("Usage: group <name>")
				continue
			}
			runWithClient(pool, func(ctx context.Context, c *nntpclient.Client) error {
				g, err := c.Group(ctx, parts[1])
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d articles, low %d, high %d\n", g.Name, g.Count, g.Low, g.High)
				return nil
			})

		case "article", "head", "body":
			if len(parts) != 2 {
				fmt.Printf("Usage: %s <id>\n", command)
				continue
			}
			runWithClient(pool, func(ctx context.Context, c *nntpclient.Client) error {
				var a nntpclient.Article
				var err error
				switch command {
				case "article":
					a, err = c.Article(ctx, parts[1])
				case "head":
					a, err = c.Head(ctx, parts[1])
				case "body":
					a, err = c.BodyRaw(ctx, parts[1])
				}
				if err != nil {
					return err
				}
				fmt.Printf("article %d <%s>, %d lines\n", a.ArticleNum, a.MessageID, len(a.Lines))
				for _, l := range a.Lines {
					fmt.Println(l)
				}
				return nil
			})

		case "stat", "next", "last":
			id := ""
			if len(parts) == 2 {
				id = parts[1]
			}
			runWithClient(pool, func(ctx context.Context, c *nntpclient.Client) error {
				var s nntpclient.Stat
				var err error
				switch command {
				case "stat":
					s, err = c.Stat(ctx, id)
				case "next":
					s, err = c.Next(ctx)
				case "last":
					s, err = c.Last(ctx)
				}
				if err != nil {
					return err
				}
				if num, msgID, ok := s.Found(); ok {
					fmt.Printf("%d <%s>\n", num, msgID)
				} else if code, msg, ok := s.NotFound(); ok {
					fmt.Printf("not found: %d %s\n", code, msg)
				}
				return nil
			})

		case "date":
			runWithClient(pool, func(ctx context.Context, c *nntpclient.Client) error {
				resp, err := c.Date(ctx)
				if err != nil {
					return err
				}
				fmt.Println(resp.Message)
				return nil
			})

		case "capabilities", "caps":
			runWithClient(pool, func(ctx context.Context, c *nntpclient.Client) error {
				lines, err := c.Capabilities(ctx)
				if err != nil {
					return err
				}
				fmt.Println(strings.Join(lines, "\n"))
				return nil
			})

		case "sleep":
			pool.Sleep()
			fmt.Println("pool asleep")

		case "wake":
			pool.Wake(ctx)
			fmt.Println("pool awake")

		case "stats":
			handleStats(pool)

		case "help":
			fmt.Println("Commands:")
			fmt.Println("  group <name>      - select a newsgroup")
			fmt.Println("  article <id>      - fetch a full article")
			fmt.Println("  head <id>         - fetch article headers")
			fmt.Println("  body <id>         - fetch article body")
			fmt.Println("  stat|next|last    - position within a group")
			fmt.Println("  date              - server date")
			fmt.Println("  capabilities      - server capabilities")
			fmt.Println("  sleep             - put the pool to sleep")
			fmt.Println("  wake              - wake the pool, reconnecting all connections")
			fmt.Println("  stats             - pool statistics")
			fmt.Println("  quit              - exit")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func runWithClient(pool *nntpclient.Pool, fn func(ctx context.Context, c *nntpclient.Client) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := pool.WithClient(ctx, 0, func(ctx context.Context, conn *nntpclient.Connection) error {
		return fn(ctx, nntpclient.NewClient(conn))
	})
	duration := time.Since(start)

	if err != nil {
		var notFound *nntpclient.ArticleNotFound
		if errors.As(err, &notFound) {
			fmt.Printf("not found: %v (took %v)\n", err, duration)
			return
		}
		fmt.Printf("Error: %v (took %v)\n", err, duration)
	}
}

func handleStats(pool *nntpclient.Pool) {
	stats := pool.Stats()
	fmt.Println("Pool statistics:")
	fmt.Printf("  Total connections:  %d\n", stats.TotalConns)
	fmt.Printf("  Idle connections:   %d\n", stats.IdleConns)
	fmt.Printf("  Active connections: %d\n", stats.ActiveConns)
	fmt.Printf("  Sleeping:           %v\n", stats.Sleeping != 0)
	fmt.Printf("  Acquire count:      %d\n", stats.AcquireCount)
	fmt.Printf("  Acquire errors:     %d\n", stats.AcquireErrors)
	fmt.Printf("  Reconnect count:    %d\n", stats.ReconnectCount)
	fmt.Printf("  Breaker state:      %v\n", pool.BreakerState())
}
