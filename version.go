package socketserver

const VersionStr = "0.1.0"
