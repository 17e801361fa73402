package handlers

var ToHTTPError = toHTTPError
