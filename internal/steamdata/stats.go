package steamdata

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"steamdash/internal/core"
)

// topGamesLimit is the number of games in Stats.TopGames.
const topGamesLimit = 10

// Stats summarizes a game library.
type Stats struct {
	TotalGames          int         `json:"total_games"`
	TotalPlaytimeHours  int         `json:"total_playtime_hours"`
	RecentPlaytimeHours int         `json:"recent_playtime_hours"`
	AveragePerGame      int         `json:"average_per_game"`
	TopGames            []core.Game `json:"top_games"`
}

// ComputeStats summarizes agg.GameLibrary. It returns nil when no library has
// been loaded. Recent playtime is taken from the recent games list, which is
// the only source of two-week figures.
func ComputeStats(agg core.Aggregate) *Stats {
	if agg.GameLibrary == nil {
		return nil
	}

	totalMinutes := 0
	for _, g := range agg.GameLibrary {
		totalMinutes += g.PlaytimeForever
	}
	recentMinutes := 0
	for _, g := range agg.RecentGames {
		recentMinutes += g.Playtime2Weeks
	}

	stats := &Stats{
		TotalGames:          len(agg.GameLibrary),
		TotalPlaytimeHours:  roundHalfUp(float64(totalMinutes) / 60),
		RecentPlaytimeHours: roundHalfUp(float64(recentMinutes) / 60),
	}
	if stats.TotalGames > 0 {
		stats.AveragePerGame = roundHalfUp(float64(totalMinutes) / 60 / float64(stats.TotalGames))
	}

	top := append([]core.Game(nil), agg.GameLibrary...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].PlaytimeForever > top[j].PlaytimeForever
	})
	if len(top) > topGamesLimit {
		top = top[:topGamesLimit]
	}
	stats.TopGames = top

	return stats
}

// FormatPlaytime renders minutes for display: "0h" for nothing, "42m" below
// an hour, otherwise hours to one decimal ("3.5h").
func FormatPlaytime(minutes int) string {
	if minutes <= 0 {
		return "0h"
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := math.Floor(float64(minutes)/60*10+0.5) / 10
	return strconv.FormatFloat(hours, 'f', -1, 64) + "h"
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
