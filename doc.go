/*
Package lokihandler ships structured logs to a Loki push endpoint.

Records from the application's logging framework are normalized by a
Formatter, tagged with labels and queued without blocking the caller. A
single background goroutine drains the queue every FlushInterval (or when
Flush is called), groups the entries into streams by label values, renders
them in the push-API JSON format and posts them in one request, optionally
gzip-compressed.

Adapters are provided for the common Go logging stacks:

  - SlogHandler implements slog.Handler
  - ZapCore implements zapcore.Core
  - LogrusHook implements logrus.Hook
  - ZerologWriter is an io.Writer for zerolog's JSON output

Any other record shape can be shipped with Emit and a custom Formatter.

	h, err := lokihandler.New(lokihandler.DefaultConfig(
		"http://loki:3100/loki/api/v1/push",
		map[string]string{"app": "billing", "env": "prod"},
	))
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close(context.Background())

	slog.SetDefault(slog.New(lokihandler.NewSlogHandler(h, nil)))

Delivery is best effort: a failed request is reported and its batch
dropped. Close performs one last flush so that a clean shutdown does not
lose queued records.
*/
package lokihandler
