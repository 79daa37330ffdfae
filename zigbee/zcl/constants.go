// Copyright ©2020 Steve Merrony

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.

// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package zcl holds the Zigbee Cluster Library vocabulary: cluster,
// attribute and command IDs, frame control bits, status codes and data
// types. These are wire constants and must not drift from the published
// cluster library values, so they are reproduced verbatim rather than
// derived.
package zcl

// Frame control bits.
const (
	FrameClusterSpecific   = 0x01 // vs Global
	FrameManufacturerSpec  = 0x04
	FrameDirectionServer   = 0x08 // Server to client
	FrameDisableDefaultRsp = 0x10
)

// Global commands (frame type = 0).
const (
	CmdReadAttributes            = 0x00
	CmdReadAttributesRsp         = 0x01
	CmdWriteAttributes           = 0x02
	CmdWriteAttributesUndivided  = 0x03
	CmdWriteAttributesRsp        = 0x04
	CmdWriteAttributesNoRsp      = 0x05
	CmdConfigureReporting        = 0x06
	CmdConfigureReportingRsp     = 0x07
	CmdReadReportingConfig       = 0x08
	CmdReadReportingConfigRsp    = 0x09
	CmdReportAttributes          = 0x0A
	CmdDefaultRsp                = 0x0B
	CmdDiscoverAttributes        = 0x0C
	CmdDiscoverAttributesRsp     = 0x0D
	CmdDiscoverCommandsReceived  = 0x11
	CmdDiscoverCommandsGenerated = 0x13
)

// Status codes.
const (
	StatusSuccess                   = 0x00
	StatusFailure                   = 0x01
	StatusNotAuthorized             = 0x7E
	StatusMalformedCommand          = 0x80
	StatusUnsupClusterCommand       = 0x81
	StatusUnsupGeneralCommand       = 0x82
	StatusUnsupManufClusterCommand  = 0x83
	StatusUnsupManufGeneralCommand  = 0x84
	StatusInvalidField              = 0x85
	StatusUnsupportedAttribute      = 0x86
	StatusInvalidValue              = 0x87
	StatusReadOnly                  = 0x88
	StatusInsufficientSpace         = 0x89
	StatusDuplicateExists           = 0x8A
	StatusNotFound                  = 0x8B
	StatusUnreportableAttribute     = 0x8C
	StatusInvalidDataType           = 0x8D
	StatusInvalidSelector           = 0x8E
	StatusWriteOnly                 = 0x8F
	StatusInconsistentStartupState  = 0x90
	StatusDefinedOutOfBand          = 0x91
	StatusActionDenied              = 0x93
	StatusTimeout                   = 0x94
	StatusAbort                     = 0x95
	StatusInvalidImage              = 0x96
	StatusWaitForData                = 0x97
	StatusNoImageAvailable          = 0x98
	StatusRequireMoreImage          = 0x99
	StatusNotificationPending       = 0x9A
	StatusHardwareFailure           = 0xC0
	StatusSoftwareFailure           = 0xC1
	StatusCalibrationError          = 0xC2
	StatusUnsupportedCluster        = 0xC3
)

// Data types.
const (
	TypeNoData        = 0x00
	TypeData8          = 0x08
	TypeData16         = 0x09
	TypeData24         = 0x0A
	TypeData32         = 0x0B
	TypeData40         = 0x0C
	TypeData48         = 0x0D
	TypeData56         = 0x0E
	TypeData64         = 0x0F
	TypeBoolean        = 0x10
	TypeBitmap8        = 0x18
	TypeBitmap16       = 0x19
	TypeBitmap24       = 0x1A
	TypeBitmap32       = 0x1B
	TypeBitmap40       = 0x1C
	TypeBitmap48       = 0x1D
	TypeBitmap56       = 0x1E
	TypeBitmap64       = 0x1F
	TypeUint8          = 0x20
	TypeUint16         = 0x21
	TypeUint24         = 0x22
	TypeUint32         = 0x23
	TypeUint40         = 0x24
	TypeUint48         = 0x25
	TypeUint56         = 0x26
	TypeUint64         = 0x27
	TypeInt8           = 0x28
	TypeInt16          = 0x29
	TypeInt24          = 0x2A
	TypeInt32          = 0x2B
	TypeInt40          = 0x2C
	TypeInt48          = 0x2D
	TypeInt56          = 0x2E
	TypeInt64          = 0x2F
	TypeEnum8          = 0x30
	TypeEnum16         = 0x31
	TypeFloat16        = 0x38
	TypeFloat32        = 0x39
	TypeFloat64        = 0x3A
	TypeOctetStr       = 0x41
	TypeCharStr        = 0x42
	TypeLongOctetStr   = 0x43
	TypeLongCharStr    = 0x44
	TypeArray          = 0x48
	TypeStruct         = 0x4C
	TypeTOD            = 0xE0 // time of day
	TypeDate           = 0xE1
	TypeUTC            = 0xE2
	TypeClusterID      = 0xE8
	TypeAttrID         = 0xE9
	TypeBacOID         = 0xEA
	TypeIEEEAddr       = 0xF0
	TypeSecKey         = 0xF1
	TypeUnknown        = 0xFF
)

// Cluster IDs.
const (
	ClusterBasic               = 0x0000
	ClusterPowerConfig         = 0x0001
	ClusterDeviceTemp          = 0x0002
	ClusterIdentify            = 0x0003
	ClusterGroups              = 0x0004
	ClusterScenes              = 0x0005
	ClusterOnOff               = 0x0006
	ClusterOnOffSwitchConfig   = 0x0007
	ClusterLevelControl        = 0x0008
	ClusterAlarms              = 0x0009
	ClusterTime                = 0x000A
	ClusterRSSILocation        = 0x000B
	ClusterAnalogInput         = 0x000C
	ClusterAnalogOutput        = 0x000D
	ClusterAnalogValue         = 0x000E
	ClusterBinaryInput         = 0x000F
	ClusterBinaryOutput        = 0x0010
	ClusterBinaryValue         = 0x0011
	ClusterMultistateInput     = 0x0012
	ClusterMultistateOutput    = 0x0013
	ClusterMultistateValue     = 0x0014
	ClusterOTAUpgrade          = 0x0019
	ClusterPollControl         = 0x0020
	ClusterGreenPowerProxy     = 0x0021

	ClusterShadeConfig    = 0x0100
	ClusterDoorLock       = 0x0101
	ClusterWindowCovering = 0x0102

	ClusterPumpConfig  = 0x0200
	ClusterThermostat  = 0x0201
	ClusterFanControl  = 0x0202
	ClusterThermostatUI = 0x0204

	ClusterColorControl  = 0x0300
	ClusterBallastConfig = 0x0301

	ClusterIlluminanceMeasurement   = 0x0400
	ClusterIlluminanceLevelSensing  = 0x0401
	ClusterTemperatureMeasurement   = 0x0402
	ClusterPressureMeasurement      = 0x0403
	ClusterFlowMeasurement          = 0x0404
	ClusterRelativeHumidity         = 0x0405
	ClusterOccupancySensing         = 0x0406

	ClusterIASZone = 0x0500
	ClusterIASAce  = 0x0501
	ClusterIASWD   = 0x0502

	ClusterMetering = 0x0702

	ClusterElectricalMeasurement = 0x0B04

	ClusterDiagnostics = 0x0B05

	ClusterTouchlink = 0x1000

	// Manufacturer-specific range: 0xFC00 - 0xFFFF
)

// Basic cluster attributes.
const (
	AttrBasicZCLVersion          = 0x0000
	AttrBasicAppVersion          = 0x0001
	AttrBasicStackVersion        = 0x0002
	AttrBasicHWVersion           = 0x0003
	AttrBasicManufacturerName    = 0x0004
	AttrBasicModelID             = 0x0005
	AttrBasicDateCode            = 0x0006
	AttrBasicPowerSource         = 0x0007
	AttrBasicGenericDeviceClass  = 0x0008
	AttrBasicGenericDeviceType   = 0x0009
	AttrBasicProductCode         = 0x000A
	AttrBasicProductURL          = 0x000B
	AttrBasicLocationDesc        = 0x0010
	AttrBasicPhysicalEnv         = 0x0011
	AttrBasicDeviceEnabled       = 0x0012
	AttrBasicAlarmMask           = 0x0013
	AttrBasicDisableLocalCfg     = 0x0014
	AttrBasicSWBuildID           = 0x4000
)

// Power configuration cluster attributes.
const (
	AttrPowerMainsVoltage   = 0x0000
	AttrPowerMainsFrequency = 0x0001
	AttrPowerBatteryVoltage = 0x0020
	AttrPowerBatteryPercent = 0x0021
)

// On/Off cluster attributes.
const (
	AttrOnOffOnOff          = 0x0000
	AttrOnOffGlobalSceneCtrl = 0x4000
	AttrOnOffOnTime         = 0x4001
	AttrOnOffOffWaitTime    = 0x4002
	AttrOnOffStartupOnOff   = 0x4003
)

// On/Off cluster commands.
const (
	CmdOnOffOff            = 0x00
	CmdOnOffOn             = 0x01
	CmdOnOffToggle         = 0x02
	CmdOnOffOffWithEffect  = 0x40
	CmdOnOffOnWithRecall   = 0x41
	CmdOnOffOnWithTimedOff = 0x42
)

// Level control cluster attributes.
const (
	AttrLevelCurrentLevel       = 0x0000
	AttrLevelRemainingTime      = 0x0001
	AttrLevelMinLevel           = 0x0002
	AttrLevelMaxLevel           = 0x0003
	AttrLevelOnOffTransition    = 0x0010
	AttrLevelOnLevel            = 0x0011
	AttrLevelOnTransitionTime   = 0x0012
	AttrLevelOffTransitionTime  = 0x0013
	AttrLevelDefaultMoveRate    = 0x0014
	AttrLevelOptions            = 0x000F
	AttrLevelStartupLevel       = 0x4000
)

// Level control cluster commands.
const (
	CmdLevelMoveToLevel       = 0x00
	CmdLevelMove              = 0x01
	CmdLevelStep              = 0x02
	CmdLevelStop              = 0x03
	CmdLevelMoveToLevelOnOff  = 0x04
	CmdLevelMoveOnOff         = 0x05
	CmdLevelStepOnOff         = 0x06
	CmdLevelStopOnOff         = 0x07
	CmdLevelMoveToClosestFreq = 0x08
)

// Color control cluster attributes.
const (
	AttrColorCurrentHue         = 0x0000
	AttrColorCurrentSat         = 0x0001
	AttrColorRemainingTime      = 0x0002
	AttrColorCurrentX           = 0x0003
	AttrColorCurrentY           = 0x0004
	AttrColorDriftCompensation  = 0x0005
	AttrColorCompensationText   = 0x0006
	AttrColorColorTemp          = 0x0007
	AttrColorColorMode          = 0x0008
	AttrColorOptions            = 0x000F
	AttrColorNumPrimaries       = 0x0010
	AttrColorEnhancedCurrentHue = 0x4000
	AttrColorEnhancedColorMode  = 0x4001
	AttrColorColorLoopActive    = 0x4002
	AttrColorColorLoopDirection = 0x4003
	AttrColorColorLoopTime      = 0x4004
	AttrColorColorLoopStartHue  = 0x4005
	AttrColorColorLoopStoredHue = 0x4006
	AttrColorColorCapabilities  = 0x400A
	AttrColorColorTempMin       = 0x400B
	AttrColorColorTempMax       = 0x400C
	AttrColorStartupColorTemp   = 0x4010
)

// Color control cluster commands.
const (
	CmdColorMoveToHue       = 0x00
	CmdColorMoveHue         = 0x01
	CmdColorStepHue         = 0x02
	CmdColorMoveToSat       = 0x03
	CmdColorMoveSat         = 0x04
	CmdColorStepSat         = 0x05
	CmdColorMoveToHueSat    = 0x06
	CmdColorMoveToColor     = 0x07
	CmdColorMoveColor       = 0x08
	CmdColorStepColor       = 0x09
	CmdColorMoveToColorTemp = 0x0A
	CmdColorEnhMoveToHue    = 0x40
	CmdColorEnhMoveHue      = 0x41
	CmdColorEnhStepHue      = 0x42
	CmdColorEnhMoveToHueSat = 0x43
	CmdColorColorLoopSet    = 0x44
	CmdColorStopMoveStep    = 0x47
	CmdColorMoveColorTemp   = 0x4B
	CmdColorStepColorTemp   = 0x4C
)

// Temperature measurement cluster attributes (value in 0.01°C).
const (
	AttrTemperatureMeasuredValue = 0x0000
	AttrTemperatureMinMeasured   = 0x0001
	AttrTemperatureMaxMeasured   = 0x0002
	AttrTemperatureTolerance     = 0x0003
)

// Relative humidity measurement cluster attributes (value in 0.01%).
const (
	AttrHumidityMeasuredValue = 0x0000
	AttrHumidityMinMeasured   = 0x0001
	AttrHumidityMaxMeasured   = 0x0002
	AttrHumidityTolerance     = 0x0003
)

// Occupancy sensing cluster attributes.
const (
	AttrOccupancyOccupancy       = 0x0000
	AttrOccupancySensorType      = 0x0001
	AttrOccupancyPIROToUDelay    = 0x0010
	AttrOccupancyPIRUToODelay    = 0x0011
	AttrOccupancyPIRUToOThresh   = 0x0012
)

// IAS Zone cluster attributes.
const (
	AttrIASZoneState             = 0x0000
	AttrIASZoneType              = 0x0001
	AttrIASZoneStatus            = 0x0002
	AttrIASCIEAddress            = 0x0010
	AttrIASZoneID                = 0x0011
	AttrIASNumZoneSensLevels     = 0x0012
	AttrIASCurrentZoneSensLevel  = 0x0013
)

// IAS zone types.
const (
	ZoneTypeStandardCIE      = 0x0000
	ZoneTypeMotionSensor     = 0x000D
	ZoneTypeContactSwitch    = 0x0015
	ZoneTypeFireSensor       = 0x0028
	ZoneTypeWaterSensor      = 0x002A
	ZoneTypeCOSensor         = 0x002B
	ZoneTypePersonalEmergency = 0x002C
	ZoneTypeVibrationMovement = 0x002D
	ZoneTypeRemoteControl    = 0x010F
	ZoneTypeKeyFob           = 0x0115
	ZoneTypeKeypad           = 0x021D
	ZoneTypeStandardWarning  = 0x0225
	ZoneTypeGlassBreak       = 0x0226
	ZoneTypeSecurityRepeater = 0x0229
)

// Electrical measurement cluster attributes.
const (
	AttrElectricalMeasurementType = 0x0000
	AttrElectricalACFrequency     = 0x0300
	AttrElectricalRMSVoltage      = 0x0505
	AttrElectricalRMSCurrent      = 0x0508
	AttrElectricalActivePower     = 0x050B
	AttrElectricalReactivePower   = 0x050E
	AttrElectricalApparentPower   = 0x050F
	AttrElectricalPowerFactor     = 0x0510
	AttrElectricalACVoltageMult   = 0x0600
	AttrElectricalACVoltageDiv    = 0x0601
	AttrElectricalACCurrentMult   = 0x0602
	AttrElectricalACCurrentDiv    = 0x0603
	AttrElectricalACPowerMult     = 0x0604
	AttrElectricalACPowerDiv      = 0x0605
)

// Metering cluster attributes.
const (
	AttrMeteringCurrentSummation    = 0x0000
	AttrMeteringInstantaneousDemand = 0x0400
	AttrMeteringMultiplier          = 0x0301
	AttrMeteringDivisor             = 0x0302
	AttrMeteringSummationFormatting = 0x0303
	AttrMeteringDemandFormatting    = 0x0304
	AttrMeteringUnitOfMeasure       = 0x0300
)

// DataTypeSize returns the fixed wire size in bytes of a ZCL data type, or
// 0 for variable-length and unknown types.
func DataTypeSize(t byte) int {
	switch t {
	case TypeNoData:
		return 0
	case TypeData8, TypeBoolean, TypeBitmap8, TypeUint8, TypeInt8, TypeEnum8:
		return 1
	case TypeData16, TypeBitmap16, TypeUint16, TypeInt16, TypeEnum16, TypeFloat16, TypeClusterID, TypeAttrID:
		return 2
	case TypeData24, TypeBitmap24, TypeUint24, TypeInt24:
		return 3
	case TypeData32, TypeBitmap32, TypeUint32, TypeInt32, TypeFloat32, TypeTOD, TypeDate, TypeUTC, TypeBacOID:
		return 4
	case TypeData40, TypeBitmap40, TypeUint40, TypeInt40:
		return 5
	case TypeData48, TypeBitmap48, TypeUint48, TypeInt48:
		return 6
	case TypeData56, TypeBitmap56, TypeUint56, TypeInt56:
		return 7
	case TypeData64, TypeBitmap64, TypeUint64, TypeInt64, TypeFloat64, TypeIEEEAddr:
		return 8
	case TypeSecKey:
		return 16
	default:
		return 0
	}
}
