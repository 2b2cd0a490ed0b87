package color

import "github.com/fatih/color"

func GreenFmt(fmt string, args ...any) string {
	return color.GreenString(fmt, args...)
}

func Green(str any) string {
	return color.GreenString("%s", str)
}

func YellowFmt(fmt string, args ...any) string {
	return color.YellowString(fmt, args...)
}

func Yellow(str any) string {
	return color.YellowString("%s", str)
}

func RedFmt(fmt string, args ...any) string {
	return color.RedString(fmt, args...)
}

func Red(str any) string {
	return color.RedString("%s", str)
}

func CyanFmt(fmt string, args ...any) string {
	return color.CyanString(fmt, args...)
}

func Cyan(str any) string {
	return color.CyanString("%s", str)
}

func GrayFmt(fmt string, args ...any) string {
	return color.WhiteString(fmt, args...)
}
