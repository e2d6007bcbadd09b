package service

import (
	"fmt"
	"strconv"
	"strings"
)

const ticketPrefix = "TICK-"

// NextTicketID returns the id following lastIssued. An empty or malformed
// previous id restarts the sequence at TICK-00001.
// Callers must hold the store's ticket-sequence lock across read and insert.
func NextTicketID(lastIssued string) string {
	next := 1
	if strings.HasPrefix(lastIssued, ticketPrefix) {
		if n, err := strconv.Atoi(strings.TrimPrefix(lastIssued, ticketPrefix)); err == nil && n >= 0 {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s%05d", ticketPrefix, next)
}
