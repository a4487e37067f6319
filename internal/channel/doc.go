// Package channel implements the resilient realtime message channel between
// a client session and the assistant backend.
//
// The channel owns one logical conversation thread. It opens a WebSocket to
// {base}/ws/chat/{threadId}/ with a fresh bearer token, keeps it alive with
// periodic pings, and transparently reconnects with capped, jittered
// exponential backoff when the connection drops with a retryable close code.
// An authentication rejection (close code 4401 or a 401/403 handshake) and
// the retry ceiling are terminal: the channel reports one user-facing error
// and stops.
//
// Delivery guarantees toward the consumer:
//
//   - Single writer: every successful connect advances the session
//     generation, and frames arriving on a superseded connection are dropped,
//     so a slow socket that lost a reconnect race can never deliver.
//   - Exactly-once observation: frames are matched against a bounded
//     insertion-ordered window of correlation keys; a key inside the window
//     never reaches the message callback twice. Once a key has been pushed
//     out by 200 newer ones, a redelivery counts as new.
//   - Order: frames are delivered in the order the current-generation
//     connection received them; nothing is buffered across generations.
//
// Sends are optimistic: Send returns a client message id immediately and
// tracks a pending request that the matching reply resolves. While the
// channel is unhealthy, sends travel over the REST fallback path; fallback
// replies pass through the same dedup window, so whichever transport answers
// first wins and the other copy is suppressed.
//
// Basic usage:
//
//	ch, err := channel.New(channel.Options{
//	    BaseURL:  "https://market.example.com",
//	    ThreadID: "thread-123",
//	    Tokens:   token.NewStatic(cred),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ch.SetMessageCallback(func(m channel.Message) {
//	    fmt.Println(m.Text)
//	})
//	if err := ch.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ch.Close()
//
//	id, _ := ch.Send("looking for a two-room flat")
//	_ = id // resolves when the assistant replies
package channel
