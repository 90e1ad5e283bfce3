package api

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Metrics holds the plain counters spec.md §6 lists for the metrics
// endpoint. m1zr-ccoin carries no metrics registry of its own (see
// DESIGN.md), so these are hand-rolled atomic counters rather than a
// pulled-in Prometheus client, served in Prometheus text exposition
// format for compatibility with any Prometheus-speaking scraper.
type Metrics struct {
	AccountCount        int64
	PaymentsAmount       int64
	PaymentsPrepared     int64
	PaymentsBroadcast    int64
	Requests             int64
	ReceivedNotes        int64
	ReceivedAmount       int64
	TransactionsScanned  int64
}

func (m *Metrics) incRequests()                    { atomic.AddInt64(&m.Requests, 1) }
func (m *Metrics) addPaymentsAmount(v int64)        { atomic.AddInt64(&m.PaymentsAmount, v) }
func (m *Metrics) incPaymentsPrepared()             { atomic.AddInt64(&m.PaymentsPrepared, 1) }
func (m *Metrics) incPaymentsBroadcast()            { atomic.AddInt64(&m.PaymentsBroadcast, 1) }
func (m *Metrics) incAccountCount()                 { atomic.AddInt64(&m.AccountCount, 1) }
func (m *Metrics) addReceivedNotes(n int64)         { atomic.AddInt64(&m.ReceivedNotes, n) }
func (m *Metrics) addReceivedAmount(v int64)        { atomic.AddInt64(&m.ReceivedAmount, v) }
func (m *Metrics) addTransactionsScanned(n int64)   { atomic.AddInt64(&m.TransactionsScanned, n) }

// ServeHTTP renders the counters in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "account_count %d\n", atomic.LoadInt64(&m.AccountCount))
	fmt.Fprintf(w, "payments_amount %d\n", atomic.LoadInt64(&m.PaymentsAmount))
	fmt.Fprintf(w, "payments_prepared %d\n", atomic.LoadInt64(&m.PaymentsPrepared))
	fmt.Fprintf(w, "payments_broadcast %d\n", atomic.LoadInt64(&m.PaymentsBroadcast))
	fmt.Fprintf(w, "requests %d\n", atomic.LoadInt64(&m.Requests))
	fmt.Fprintf(w, "received_notes %d\n", atomic.LoadInt64(&m.ReceivedNotes))
	fmt.Fprintf(w, "received_amount %d\n", atomic.LoadInt64(&m.ReceivedAmount))
	fmt.Fprintf(w, "transactions_scanned %d\n", atomic.LoadInt64(&m.TransactionsScanned))
}
