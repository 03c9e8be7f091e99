package settlement

import (
	"context"
	"hash/fnv"

	"golang.org/x/sync/errgroup"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/policy"
)

// =============================================================================
// PARALLEL CLASSIFICATION - Partition by host, merge by summation
// =============================================================================

// ClassifyParallel classifies a large period by splitting the input into
// host-keyed shards, classifying each shard on its own goroutine and merging
// the partial reports. Every record lands in exactly one shard:
//
//   - bookings and their payouts by the booking's host
//   - charges by the host of the booking they reference, or their own host
//     when standalone
//
// A ConfigurationError in any shard, or ctx cancellation, aborts the run.
func ClassifyParallel(ctx context.Context, tables policy.Tables, in ClassifyInput, workers int) (RevenueClassification, error) {
	if err := tables.Validate(); err != nil {
		return RevenueClassification{}, err
	}
	if err := in.Period.Validate(); err != nil {
		return RevenueClassification{}, err
	}
	if workers <= 1 {
		return classifyValidated(tables, in)
	}

	shards := partition(in, workers)
	results := make([]RevenueClassification, len(shards))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, shard := range shards {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rc, err := classifyValidated(tables, shard)
			if err != nil {
				return err
			}
			results[i] = rc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RevenueClassification{}, err
	}

	out := NewRevenueClassification(in.Period, tables.Version)
	for _, rc := range results {
		out = out.Merge(rc)
	}
	return out, nil
}

func partition(in ClassifyInput, n int) []ClassifyInput {
	shards := make([]ClassifyInput, n)
	for i := range shards {
		shards[i] = ClassifyInput{
			Period:        in.Period,
			Hosts:         in.Hosts,
			RateOverrides: in.RateOverrides,
			KnownBookings: in.KnownBookings,
		}
	}

	hostOf := make(map[generic.BookingID]generic.HostID, len(in.Bookings))
	for _, b := range in.Bookings {
		hostOf[b.ID] = b.HostID
		s := shardFor(b.HostID, n)
		shards[s].Bookings = append(shards[s].Bookings, b)
	}

	route := func(bookingID generic.BookingID, hostID generic.HostID) int {
		if h, ok := hostOf[bookingID]; ok {
			return shardFor(h, n)
		}
		return shardFor(hostID, n)
	}
	for _, p := range in.Payouts {
		s := route(p.BookingID, p.HostID)
		shards[s].Payouts = append(shards[s].Payouts, p)
	}
	for _, ch := range in.InsuranceCharges {
		s := route(ch.BookingID, ch.HostID)
		shards[s].InsuranceCharges = append(shards[s].InsuranceCharges, ch)
	}
	for _, ch := range in.TaxCharges {
		s := route(ch.BookingID, ch.HostID)
		shards[s].TaxCharges = append(shards[s].TaxCharges, ch)
	}
	return shards
}

func shardFor(host generic.HostID, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return int(h.Sum32() % uint32(n))
}
