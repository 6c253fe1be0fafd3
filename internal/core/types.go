package core

// PersonaStateOnline is the personastate code Steam reports for an online player.
const PersonaStateOnline = 1

// Player is a single entry of the profile endpoint's players list.
type Player struct {
	SteamID                  string `json:"steamid"`
	PersonaName              string `json:"personaname"`
	ProfileURL               string `json:"profileurl,omitempty"`
	Avatar                   string `json:"avatar,omitempty"`
	AvatarMedium             string `json:"avatarmedium,omitempty"`
	AvatarFull               string `json:"avatarfull,omitempty"`
	PersonaState             int    `json:"personastate"`
	CommunityVisibilityState int    `json:"communityvisibilitystate,omitempty"`
	LastLogoff               int64  `json:"lastlogoff,omitempty"`
	TimeCreated              int64  `json:"timecreated,omitempty"`
	GameExtraInfo            string `json:"gameextrainfo,omitempty"`
	GameID                   string `json:"gameid,omitempty"`
	LocCountryCode           string `json:"loccountrycode,omitempty"`
}

// Game is a single game record from the recent or games endpoints.
// Playtimes are in minutes.
type Game struct {
	AppID           int64  `json:"appid"`
	Name            string `json:"name,omitempty"`
	PlaytimeForever int    `json:"playtime_forever"`
	Playtime2Weeks  int    `json:"playtime_2weeks,omitempty"`
	ImgIconURL      string `json:"img_icon_url,omitempty"`
	RTimeLastPlayed int64  `json:"rtime_last_played,omitempty"`
}

// Aggregate is the merged view across all fetched or cached endpoints.
// A nil field means the endpoint has never produced data in this view.
type Aggregate struct {
	Profile     *Player `json:"profile,omitempty"`
	RecentGames []Game  `json:"recent_games,omitempty"`
	GameLibrary []Game  `json:"game_library,omitempty"`
	Level       *int    `json:"level,omitempty"`
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (a Aggregate) Clone() Aggregate {
	out := Aggregate{}
	if a.Profile != nil {
		p := *a.Profile
		out.Profile = &p
	}
	if a.RecentGames != nil {
		out.RecentGames = append([]Game(nil), a.RecentGames...)
	}
	if a.GameLibrary != nil {
		out.GameLibrary = append([]Game(nil), a.GameLibrary...)
	}
	if a.Level != nil {
		l := *a.Level
		out.Level = &l
	}
	return out
}

// IsEmpty reports whether no field holds displayable data.
func (a Aggregate) IsEmpty() bool {
	return a.Profile == nil && len(a.RecentGames) == 0 && len(a.GameLibrary) == 0 && a.Level == nil
}

// IsOnline reports whether the profile's persona state is online.
func (a Aggregate) IsOnline() bool {
	return a.Profile != nil && a.Profile.PersonaState == PersonaStateOnline
}

// CurrentGame returns the most recently played game, or nil.
func (a Aggregate) CurrentGame() *Game {
	if len(a.RecentGames) == 0 {
		return nil
	}
	g := a.RecentGames[0]
	return &g
}

func (a Aggregate) HasProfile() bool     { return a.Profile != nil }
func (a Aggregate) HasRecentGames() bool { return len(a.RecentGames) > 0 }
func (a Aggregate) HasGameLibrary() bool { return len(a.GameLibrary) > 0 }

// Payload is the typed content of one endpoint response.
// Only the field matching Endpoint is meaningful.
type Payload struct {
	Endpoint Endpoint
	Profile  *Player
	Games    []Game
	Level    *int
}

// Apply writes the payload into its aggregate field and reports whether the
// payload carried usable data (a player, a non-empty games list, a non-zero level).
func (p *Payload) Apply(agg *Aggregate) bool {
	switch p.Endpoint {
	case EndpointProfile:
		agg.Profile = p.Profile
		return p.Profile != nil
	case EndpointRecentGames:
		agg.RecentGames = nonNilGames(p.Games)
		return len(p.Games) > 0
	case EndpointGameLibrary:
		agg.GameLibrary = nonNilGames(p.Games)
		return len(p.Games) > 0
	case EndpointLevel:
		if p.Level == nil || *p.Level == 0 {
			agg.Level = nil
			return false
		}
		agg.Level = p.Level
		return true
	default:
		return false
	}
}

func nonNilGames(games []Game) []Game {
	if games == nil {
		return []Game{}
	}
	return games
}
