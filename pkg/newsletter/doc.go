// Package newsletter implements issue publishing on top of the idempotency
// and outbox packages, plus the subscriber list that decides who receives an
// issue. New subscribers confirm through a tokenised link sent by email.
package newsletter
