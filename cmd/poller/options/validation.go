package options

import (
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	modbus "gwmodbus/pkg/protocol/modbus/runtime"
)

func Validate(o *Options) []error {
	var errs []error
	if err := o.BaseOptions.ValidateAndApply(); err != nil {
		errs = append(errs, err)
	}
	if agg := validateDevices(o).ToAggregate(); agg != nil {
		errs = append(errs, agg.Errors()...)
	}
	return errs
}

func validateDevices(o *Options) field.ErrorList {
	errs := field.ErrorList{}
	if o.ReportInterval.Duration <= 0 {
		errs = append(errs, field.Invalid(field.NewPath("reportInterval"), o.ReportInterval.String(), "must be positive"))
	}
	if o.ConnectInterval.Duration <= 0 {
		errs = append(errs, field.Invalid(field.NewPath("connectInterval"), o.ConnectInterval.String(), "must be positive"))
	}
	devicesPath := field.NewPath("devices")
	if len(o.Devices) == 0 {
		errs = append(errs, field.Required(devicesPath, "at least one device is required"))
	}
	urls := sets.New[string]()
	for i, d := range o.Devices {
		path := devicesPath.Index(i)
		if d.ServerUrl == "" {
			errs = append(errs, field.Required(path.Child("serverUrl"), ""))
		} else if urls.Has(d.ServerUrl) {
			errs = append(errs, field.Duplicate(path.Child("serverUrl"), d.ServerUrl))
		}
		urls.Insert(d.ServerUrl)
		if connection, err := modbus.DecodeConnectionConfig(d.ServerUrl, d.Params); err != nil {
			errs = append(errs, field.Invalid(path.Child("params"), d.Params, err.Error()))
		} else if connection.ModbusType.IsSerial() {
			errs = append(errs, validateSerialLine(path.Child("params"), connection)...)
		}
		for j, s := range d.Stations {
			for k, p := range s.Points {
				if _, ok := modbus.ParseAddress(s.Station, p); !ok {
					errs = append(errs, field.Invalid(path.Child("stations").Index(j).Child("points").Index(k), p, "invalid point"))
				}
			}
		}
	}
	return errs
}

// validateSerialLine checks the line settings only serial transports use.
func validateSerialLine(path *field.Path, c *modbus.ConnectionConfig) field.ErrorList {
	errs := field.ErrorList{}
	if c.BaudRate <= 0 {
		errs = append(errs, field.Invalid(path.Child("BaudRate"), c.BaudRate, "must be positive"))
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		errs = append(errs, field.Invalid(path.Child("DataBits"), c.DataBits, "must be between 5 and 8"))
	}
	return errs
}
