package config

const (
	defaultDataDir          = "~/.local/share/edicola"
	defaultAPIBind          = "127.0.0.1:7643"
	defaultServicesURL      = "https://ingress.pressreader.com/services/"
	defaultCDNURL           = "https://i.prcdn.co/img"
	defaultMinScale         = 50
	defaultScaleStep        = 5
	defaultMaxRetries       = 10
	defaultRetryDelay       = 5
	defaultManifestDelay    = 1
	defaultLoginTimeout     = 30
	defaultTelegramTimeout  = 120
	defaultOCRBinary        = "ocrmypdf"
	defaultOCRTimeout       = 900
	defaultSchedulerTime    = "05:00"
	defaultThresholdDate    = "19700101"
	defaultWorkerInterval   = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultPortalURL        = "https://bibliotu.medialibrary.it"
	defaultHeadlessBrowsing = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Upstream: Upstream{
			ServicesURL:   defaultServicesURL,
			CDNURL:        defaultCDNURL,
			MinScale:      defaultMinScale,
			ScaleStep:     defaultScaleStep,
			MaxRetries:    defaultMaxRetries,
			RetryDelay:    defaultRetryDelay,
			ManifestDelay: defaultManifestDelay,
		},
		Login: Login{
			PortalURL: defaultPortalURL,
			Timeout:   defaultLoginTimeout,
			Headless:  defaultHeadlessBrowsing,
		},
		Telegram: Telegram{
			RequestTimeout: defaultTelegramTimeout,
		},
		OCR: OCR{
			Binary:  defaultOCRBinary,
			Timeout: defaultOCRTimeout,
		},
		Workflow: Workflow{
			SchedulerTime:      defaultSchedulerTime,
			ThresholdDate:      defaultThresholdDate,
			DownloaderInterval: defaultWorkerInterval,
			FinisherInterval:   defaultWorkerInterval,
			UploaderInterval:   defaultWorkerInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
