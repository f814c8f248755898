package main

import (
	"fmt"
	"time"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var (
	replyBytes int
	retries    int
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "Connects, writes a payload and prints the reply.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, stop, err := openStack()
			if err != nil {
				return err
			}
			defer stop()

			conn, err := dial(st)
			if err != nil {
				return err
			}
			defer conn.Close()

			payload := []byte(args[0])
			if err := writeAll(conn, payload); err != nil {
				return err
			}

			if replyBytes == 0 {
				return nil
			}
			reply, err := readReply(conn, replyBytes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", reply)
			return nil
		},
	}

	cmd.Flags().IntVarP(&replyBytes, "reply", "n", 0, "Number of reply bytes to wait for (0 = none).")
	cmd.Flags().IntVar(&retries, "retries", 5, "Attempts for operations that would block.")
	return cmd
}

// writeAll writes p, retrying would-block results with a short backoff.
func writeAll(conn *sockstack.Conn, p []byte) error {
	for attempt := 0; len(p) > 0; {
		n, err := conn.Write(p)
		p = p[n:]
		if err == nil {
			continue
		}
		if !sockstack.IsWouldBlock(err) || attempt >= retries {
			return err
		}
		attempt++
		time.Sleep(backoff(attempt))
	}
	return nil
}

// readReply reads exactly n bytes, retrying would-block results.
func readReply(conn *sockstack.Conn, n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for attempt := 0; got < n; {
		m, err := conn.Read(buf[got:])
		got += m
		if err == nil {
			continue
		}
		if !sockstack.IsWouldBlock(err) || attempt >= retries {
			return buf[:got], oops.
				Code("SHORT_REPLY").
				In("sockctl").
				With("want", n).
				With("got", got).
				Wrapf(err, "reply incomplete")
		}
		attempt++
		time.Sleep(backoff(attempt))
	}
	return buf, nil
}

// backoff doubles from 50ms per attempt.
func backoff(attempt int) time.Duration {
	return 50 * time.Millisecond << (attempt - 1)
}
