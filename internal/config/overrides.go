package config

// Overrides carries values supplied on the command line or through the
// environment. Zero values leave the file configuration untouched.
type Overrides struct {
	Debug       bool
	Trace       bool
	DryRun      bool
	Headless    *bool
	NoFileLog   bool
	Interactive *bool
	Credentials map[string]Credentials
}

// Credentials for one site.
type Credentials struct {
	Username string
	Password string
}

// Apply returns a copy of c with o applied. c itself is not modified.
func (c *Config) Apply(o Overrides) *Config {
	out := *c
	out.Sites = make(map[string]SiteConfig, len(c.Sites))
	for name, site := range c.Sites {
		site.Selectors = site.Selectors.Merge(nil)
		if cred, ok := o.Credentials[name]; ok {
			if cred.Username != "" {
				site.Username = cred.Username
			}
			if cred.Password != "" {
				site.Password = cred.Password
			}
		}
		out.Sites[name] = site
	}

	if o.Debug {
		out.Logger.Level = "debug"
		out.Logger.AddSource = true
	}
	if o.Trace {
		out.Debug.Trace = true
	}
	if o.DryRun {
		out.Debug.DryRun = true
	}
	if o.Headless != nil {
		out.Browser.Headless = *o.Headless
	}
	if o.Interactive != nil {
		out.Auth.Interactive = *o.Interactive
	}
	if o.NoFileLog {
		out.Logger.LogFile = ""
	}
	return &out
}
