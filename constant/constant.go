package constant

import "os"

// <EngineHome>/                 (e.g., /home/campaigns/.campaign-engine)
// └── config/
//	└── campaign_engine.json
// └── data/
//	└── campaigns.db

const (
	EngineDir = ".campaign-engine"

	ConfigSubdir   = "config"
	ConfigFileName = "campaign_engine.json"

	DataSubdir = "data"

	DatabaseFileName = "campaigns.db"
)

var DefaultEngineHome = os.ExpandEnv("$HOME/") + EngineDir
