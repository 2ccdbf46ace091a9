package recent

import (
	"context"
	"log/slog"

	"github.com/humblenginr/docconvert/sched"
)

// Bind loads the stored list into l on the UI context and then saves every
// change from the background pool. Items added to l before the load lands
// stay in front of the stored ones. The returned future resolves once the
// initial load has been applied.
func Bind(ctx context.Context, s *sched.Scheduler, l *List, store *Store, log *slog.Logger) *sched.Future[struct{}] {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "recent"))

	type loaded struct {
		items []string
		rev   uint64
	}
	load := sched.Background(s, ctx, func(ctx context.Context) (loaded, error) {
		items, rev, err := store.Load(ctx)
		return loaded{items, rev}, err
	})
	return sched.Then(s, ctx, load, sched.AffinityUI, func(ctx context.Context, ld loaded) (struct{}, error) {
		l.OnChange(func(rev uint64, items []string) {
			s.SubmitBackground(ctx, func(ctx context.Context) error {
				_, err := store.Save(ctx, rev, items)
				return err
			}).Finally(func(_ struct{}, err error) {
				if err != nil {
					log.Error("saving recent items", slog.Any("error", err), slog.Uint64("revision", rev))
				}
			})
		})
		l.Merge(ld.items, ld.rev)
		return struct{}{}, nil
	})
}
