// Package imagemounter implements the mobile_image_mounter service: check
// whether the developer disk image is already mounted, and if not, stream
// it onto the device in the three-step ReceiveBytes/push-bytes/MountImage
// protocol. Image bytes are sourced from a local cache (pkg/pairstore);
// callers supply a Fetcher to populate the cache on a miss.
package imagemounter
