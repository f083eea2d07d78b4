package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Donghyun-Son/srtgo/internal/rail"
	"github.com/Donghyun-Son/srtgo/internal/reservation"
)

func newReservationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reservation",
		Aliases: []string{"res"},
		Short:   "Manage booking intents (non-API)",
	}
	cmd.AddCommand(newReservationCreateCmd())
	cmd.AddCommand(newReservationListCmd())
	return cmd
}

func newReservationCreateCmd() *cobra.Command {
	var (
		userID    int64
		railType  string
		departure string
		arrival   string
		date      string
		depTime   string
		trains    string
		seat      string
		autoPay   bool
		counts    reservation.PassengerCounts
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a pending booking intent; start polling through the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := openDB(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()

			v, err := rail.ParseVariant(railType)
			if err != nil {
				return err
			}
			rec := reservation.Record{
				UserID:     userID,
				Rail:       v,
				Departure:  departure,
				Arrival:    arrival,
				Date:       strings.ReplaceAll(date, "-", ""),
				Time:       normalizeTime(depTime),
				Passengers: counts,
				Trains:     splitCSV(trains),
				Seat:       rail.SeatOption(strings.ToUpper(seat)),
				AutoPay:    autoPay,
			}
			if err := rec.Validate(); err != nil {
				return err
			}

			id, err := reservation.NewRepo(d).Create(ctx, rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created reservation id=%d %s %s→%s %s %s passengers=%d\n",
				id, rec.Rail, rec.Departure, rec.Arrival, rec.Date, rec.Time, rec.Passengers.Total())
			return nil
		},
	}

	c.Flags().Int64Var(&userID, "user-id", 0, "user id (from DB)")
	c.Flags().StringVar(&railType, "rail", "SRT", "SRT or KTX")
	c.Flags().StringVar(&departure, "from", "", "departure station")
	c.Flags().StringVar(&arrival, "to", "", "arrival station")
	c.Flags().StringVar(&date, "date", "", "departure date YYYYMMDD or YYYY-MM-DD")
	c.Flags().StringVar(&depTime, "time", "000000", "earliest departure HHMMSS or HH:MM")
	c.Flags().StringVar(&trains, "trains", "", "optional comma-separated train numbers")
	c.Flags().StringVar(&seat, "seat", string(rail.GeneralFirst), "GENERAL_FIRST, GENERAL_ONLY, SPECIAL_FIRST or SPECIAL_ONLY")
	c.Flags().BoolVar(&autoPay, "auto-pay", false, "pay with the stored card once booked")
	c.Flags().IntVar(&counts.Adult, "adults", 1, "adult passengers")
	c.Flags().IntVar(&counts.Child, "children", 0, "child passengers")
	c.Flags().IntVar(&counts.Senior, "seniors", 0, "senior passengers")
	c.Flags().IntVar(&counts.Disability1To3, "disability-1-3", 0, "passengers with severe disability (grades 1-3)")
	c.Flags().IntVar(&counts.Disability4To6, "disability-4-6", 0, "passengers with mild disability (grades 4-6)")

	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")
	_ = c.MarkFlagRequired("date")
	return c
}

func newReservationListCmd() *cobra.Command {
	var userID int64
	c := &cobra.Command{
		Use:   "list",
		Short: "List booking intents for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := openDB(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()

			recs, err := reservation.NewRepo(d).ListByUser(ctx, userID)
			if err != nil {
				return err
			}
			for _, r := range recs {
				train := "-"
				if r.Result != nil {
					train = r.Result.TrainNumber
				}
				fmt.Fprintf(os.Stdout, "id=%d %s %s→%s %s %s status=%s attempts=%d train=%s updated=%s\n",
					r.ID, r.Rail, r.Departure, r.Arrival, r.Date, r.Time, r.Status, r.Attempts, train, r.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	c.Flags().Int64Var(&userID, "user-id", 0, "user id")
	_ = c.MarkFlagRequired("user-id")
	return c
}

// normalizeTime accepts HH:MM, HH:MM:SS or HHMMSS.
func normalizeTime(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(s) == 4 {
		s += "00"
	}
	return s
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
