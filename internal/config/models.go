package config

// Parameters are the analysis settings. Keys match the parameter names used
// by the HTTP API and the CLI.
type Parameters struct {
	CenterX      int     `json:"CenterX" yaml:"CenterX"`
	CenterY      int     `json:"CenterY" yaml:"CenterY"`
	ColorR       float64 `json:"ColorR" yaml:"ColorR"`
	ColorG       float64 `json:"ColorG" yaml:"ColorG"`
	ColorB       float64 `json:"ColorB" yaml:"ColorB"`
	MarkerWidth  int     `json:"MarkerWidth" yaml:"MarkerWidth"`
	MarkerHeight int     `json:"MarkerHeight" yaml:"MarkerHeight"`
	MarkerShape  int     `json:"MarkerShape" yaml:"MarkerShape"`
	Tolerance    int     `json:"Tolerance" yaml:"Tolerance"`
	Port         int     `json:"Port" yaml:"Port"`
	// Width and Height hold the negotiated stream size. They are written
	// by the service, never by users.
	Width  int `json:"Width" yaml:"Width"`
	Height int `json:"Height" yaml:"Height"`
}

// HTTPConfig configures the HTTP API server
type HTTPConfig struct {
	Port int `json:"port" yaml:"port"`
	// AdminToken, when set, is required as a bearer token for pickcurrent.
	AdminToken string `json:"-" yaml:"admin_token"`
}

// StreamConfig selects the capture source and the requested stream
type StreamConfig struct {
	Source     string `json:"source" yaml:"source"`
	Device     string `json:"device" yaml:"device"`
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
	Buffers    int    `json:"buffers" yaml:"buffers"`
	KeepFrames int    `json:"keep_frames" yaml:"keep_frames"`
	FPS        int    `json:"fps" yaml:"fps"`
	OriginX    int    `json:"origin_x" yaml:"origin_x"`
	OriginY    int    `json:"origin_y" yaml:"origin_y"`
}

// MQTTConfig configures the event bus. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string `json:"-" yaml:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `json:"qos" yaml:"qos"`
}

// FieldbusConfig configures the Modbus server
type FieldbusConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	MinRefreshMS int  `json:"min_refresh_ms" yaml:"min_refresh_ms"`
	MaxClients   int  `json:"max_clients" yaml:"max_clients"`
}

// PreviewConfig configures the MJPEG preview stream
type PreviewConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	FPS     int  `json:"fps" yaml:"fps"`
	Width   int  `json:"width" yaml:"width"`
	Quality int  `json:"quality" yaml:"quality"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Syslog bool   `json:"syslog" yaml:"syslog"`
}

// Config represents the application configuration
type Config struct {
	Parameters Parameters     `json:"parameters" yaml:"parameters"`
	HTTP       HTTPConfig     `json:"http" yaml:"http"`
	Stream     StreamConfig   `json:"stream" yaml:"stream"`
	MQTT       MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Fieldbus   FieldbusConfig `json:"fieldbus" yaml:"fieldbus"`
	Preview    PreviewConfig  `json:"preview" yaml:"preview"`
	Log        LogConfig      `json:"log" yaml:"log"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		Parameters: Parameters{
			CenterX:      320,
			CenterY:      240,
			ColorR:       125,
			ColorG:       130,
			ColorB:       142,
			MarkerWidth:  40,
			MarkerHeight: 40,
			MarkerShape:  0,
			Tolerance:    17,
			Port:         4840,
			Width:        640,
			Height:       480,
		},
		HTTP: HTTPConfig{Port: 8080},
		Stream: StreamConfig{
			Source:     "synthetic",
			Width:      640,
			Height:     480,
			Buffers:    8,
			KeepFrames: 2,
			FPS:        10,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "colorchecker",
			QoS:         1,
		},
		Fieldbus: FieldbusConfig{
			Enabled:      true,
			MinRefreshMS: 100,
			MaxClients:   8,
		},
		Preview: PreviewConfig{
			Enabled: true,
			FPS:     5,
			Width:   640,
			Quality: 75,
		},
		Log: LogConfig{Level: "info"},
	}
}
