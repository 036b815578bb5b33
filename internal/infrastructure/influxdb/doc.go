// Package influxdb records the history of live asset values in InfluxDB v2.
//
// Every numeric or boolean value that reaches a dashboard subscriber can be
// written as a point in the asset_values measurement, tagged with the asset
// id. Writes are non-blocking and batched by the client library; failures
// surface through SetOnError.
//
// History is optional. When influxdb.enabled is false, Connect returns
// ErrDisabled and callers carry on without it.
//
// Usage:
//
//	hist, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//	hist.SetOnError(func(err error) { logger.Warn("history write failed", "error", err) })
//	hist.WriteAssetValue("a1", 21.5)
package influxdb
