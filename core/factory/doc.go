// Package factory builds pluggable modules, such as metrics sinks, from the
// `type` and `conf` pairs found in configuration files.
//
//	sinks := factory.NewRegistry[metrics.MetricsSink]()
//	_ = sinks.Register("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//		var c struct{ URL string `json:"url"` }
//		if err := factory.Decode(conf, &c); err != nil {
//			return nil, err
//		}
//		return newInflux(c.URL), nil
//	})
//	s, err := sinks.Create(factory.ModuleConfig{Type: "influx", Conf: map[string]any{"url": "http://influx:8086"}})
package factory
